// Package table parses lead tables out of portal HTML. The engine hands it
// the outerHTML of each discovered table so parsing stays testable without
// a browser.
package table

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/energum/leadwatch/lead"
)

// Grid is one parsed table: normalized headers plus one row map per body
// row whose cell count matches the header count.
type Grid struct {
	Headers []string
	Rows    []map[string]string
}

// Parse extracts headers and rows from the outerHTML of a single table.
// Header cells come from thead th, falling back to the first row's th then
// td. Body rows with a different cell count than the headers are dropped;
// partial rows usually mean the framework was still rendering them.
func Parse(tableHTML string) (Grid, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		return Grid{}, fmt.Errorf("table: parse html: %w", err)
	}

	sel := doc.Find("table").First()
	if sel.Length() == 0 {
		// Also accept ARIA grids, which render with div cells.
		sel = doc.Find(`[role="grid"], [role="table"]`).First()
		if sel.Length() == 0 {
			return Grid{}, fmt.Errorf("table: no table element in fragment")
		}
		return parseARIA(sel), nil
	}

	var g Grid
	headerRow := -1

	sel.Find("thead th").Each(func(_ int, c *goquery.Selection) {
		g.Headers = append(g.Headers, lead.Normalize(cellText(c)))
	})
	rows := sel.Find("tbody tr")
	if rows.Length() == 0 {
		rows = sel.Find("tr")
	}
	if len(g.Headers) == 0 {
		// Headerless thead: take the first row as headers, th preferred.
		first := rows.First()
		cells := first.Find("th")
		if cells.Length() == 0 {
			cells = first.Find("td")
		}
		cells.Each(func(_ int, c *goquery.Selection) {
			g.Headers = append(g.Headers, lead.Normalize(cellText(c)))
		})
		headerRow = 0
	}
	if len(g.Headers) == 0 {
		return g, nil
	}

	rows.Each(func(i int, tr *goquery.Selection) {
		if i == headerRow {
			return
		}
		var cells []string
		tr.Find("td, th").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, cellText(c))
		})
		if row, ok := zip(g.Headers, cells); ok {
			g.Rows = append(g.Rows, row)
		}
	})
	return g, nil
}

// parseARIA handles role="grid"/"table" markup where rows and cells are
// plain divs tagged with ARIA roles.
func parseARIA(sel *goquery.Selection) Grid {
	var g Grid
	sel.Find(`[role="columnheader"]`).Each(func(_ int, c *goquery.Selection) {
		g.Headers = append(g.Headers, lead.Normalize(cellText(c)))
	})
	if len(g.Headers) == 0 {
		return g
	}
	sel.Find(`[role="row"]`).Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find(`[role="cell"], [role="gridcell"]`).Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, cellText(c))
		})
		if r, ok := zip(g.Headers, cells); ok {
			g.Rows = append(g.Rows, r)
		}
	})
	return g
}

// zip pairs headers with cells. Returns false when counts differ.
func zip(headers, cells []string) (map[string]string, bool) {
	if len(cells) == 0 || len(cells) != len(headers) {
		return nil, false
	}
	row := make(map[string]string, len(headers))
	for i, h := range headers {
		row[h] = cells[i]
	}
	return row, true
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
