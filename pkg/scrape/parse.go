package scrape

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	jsonpCountRe = regexp.MustCompile(`\((\d+)\)`)
	trailingIDRe = regexp.MustCompile(`(\d+)$`)
	numberRe     = regexp.MustCompile(`[\d,]+`)
)

// ParseCombinedCount extracts the player count from the JSONP payload of
// the player_count.js endpoint, which looks like callback(123456).
func ParseCombinedCount(body []byte) (int, error) {
	m := jsonpCountRe.FindSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("no player count in JSONP payload")
	}
	count, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("bad player count %q: %w", m[1], err)
	}
	return count, nil
}

// ParseWorldPage extracts the OSRS online total and the world table from
// the world-list page. World rows have five cells: world, players,
// location, type, activity. The site's "-" activity placeholder is
// normalized to the empty string.
func ParseWorldPage(body []byte) (int, []World, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse world page: %w", err)
	}

	total, err := parseOnlineTotal(doc)
	if err != nil {
		return 0, nil, err
	}

	worlds := parseWorldRows(doc)
	if len(worlds) == 0 {
		return 0, nil, fmt.Errorf("no world rows in world page")
	}
	return total, worlds, nil
}

func parseOnlineTotal(doc *goquery.Document) (int, error) {
	text := doc.Find("p.player-count").First().Text()
	m := numberRe.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no online total in world page")
	}
	return parseCount(m)
}

func parseWorldRows(doc *goquery.Document) []World {
	var worlds []World
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return // header or filler row
		}

		id, err := parseWorldID(cellText(cells, 0))
		if err != nil {
			return
		}
		players, err := parseCount(cellText(cells, 1))
		if err != nil {
			players = 0 // offline worlds list "OFFLINE" instead of a count
		}

		worlds = append(worlds, World{
			ID:       id,
			Players:  players,
			Region:   cellText(cells, 2),
			Type:     cellText(cells, 3),
			Activity: normalizeActivity(cellText(cells, 4)),
		})
	})
	return worlds
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}

// parseWorldID pulls the numeric id from labels like "OldSchool 42"
func parseWorldID(s string) (int, error) {
	m := trailingIDRe.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no world id in %q", s)
	}
	return strconv.Atoi(m)
}

// parseCount parses populations like "1,234 players"
func parseCount(s string) (int, error) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no count in %q", s)
	}
	return strconv.Atoi(strings.ReplaceAll(m, ",", ""))
}

func normalizeActivity(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
