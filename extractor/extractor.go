// Package extractor converts rendered search-result pages into project
// records. It is a pure function of page content: no navigation, no I/O.
package extractor

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"uniscrape/models"
	"uniscrape/parser"
)

const (
	cardSelector    = ".projectCard"
	linkSelector    = `a.secondaryLink[href*="/"]`
	titleSelector   = "h3.title-star a"
	authorSelector  = ".author a"
	detailsSelector = ".details .flex"
	classSelector   = ".classChip"
)

// Extract parses every listing card out of pageHTML, in document order.
// Cards whose link does not carry a /{workspace}/{project} identity are
// dropped and counted; every other field degrades to its zero value (or nil
// for counts) when the markup does not cooperate.
func Extract(pageHTML, baseURL string) ([]*models.Project, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, 0, fmt.Errorf("parse page: %w", err)
	}

	projects := []*models.Project{}
	dropped := 0

	doc.Find(cardSelector).Each(func(i int, card *goquery.Selection) {
		project, ok := extractCard(card, baseURL)
		if !ok {
			dropped++
			return
		}
		projects = append(projects, project)
	})

	return projects, dropped, nil
}

func extractCard(card *goquery.Selection, baseURL string) (*models.Project, bool) {
	href, ok := card.Find(linkSelector).First().Attr("href")
	if !ok || href == "" {
		slog.Warn("listing card has no project link, dropping")
		return nil, false
	}

	workspaceID, projectID, err := parser.ProjectPath(href)
	if err != nil {
		slog.Warn("listing card has unparsable project link, dropping",
			slog.String("href", href),
			slog.Any("error", err),
		)
		return nil, false
	}

	project := &models.Project{
		ProjectURL:  projectURL(baseURL, workspaceID, projectID),
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		Title:       parser.CleanTitle(card.Find(titleSelector).First().Text()),
		Author:      parser.CleanAuthor(card.Find(authorSelector).First().Text()),
		Classes:     []string{},
	}

	if details := strings.TrimSpace(card.Find(detailsSelector).First().Text()); details != "" {
		project.ImageCount = parser.ImageCount(details)
		project.ModelCount = parser.ModelCount(details)
	}

	card.Find(classSelector).Each(func(i int, chip *goquery.Selection) {
		if class := strings.TrimSpace(chip.Text()); class != "" {
			project.Classes = append(project.Classes, class)
		}
	})

	return project, true
}

func projectURL(baseURL, workspaceID, projectID string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(baseURL, "/"), workspaceID, projectID)
}
