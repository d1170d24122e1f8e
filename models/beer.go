// Package models defines data structures for the menu crawler.
package models

import (
	"fmt"
	"time"
)

// Beer represents one item scraped from a beer detail page.
type Beer struct {
	Name      string    `csv:"name" json:"name"`
	Brewery   string    `csv:"brewery" json:"brewery"`
	Style     string    `csv:"style" json:"style"`
	Rating    float64   `csv:"rating" json:"rating"`
	Ratings   string    `csv:"ratings" json:"ratings"`
	ABV       string    `csv:"abv" json:"abv"`
	ImageURL  string    `csv:"image_url" json:"image_url,omitempty"`
	URL       string    `csv:"url" json:"url"`
	ScrapedAt time.Time `csv:"scraped_at" json:"scraped_at"`
}

// String renders the beer in the short markdown form used by chat collaborators.
func (b Beer) String() string {
	return fmt.Sprintf("[%s](%s) (%s) - %s, %s\n*%.2f/5*", b.Name, b.URL, b.Style, b.Brewery, b.ABV, b.Rating)
}

// ListResult summarises one list within a poll cycle.
type ListResult struct {
	Name     string
	URL      string
	Items    int
	Dropped  int
	Duration time.Duration
	Err      error
}

// CycleResult holds the outcome of a full pass over the configured lists.
type CycleResult struct {
	StartTime time.Time
	EndTime   time.Time
	Lists     []ListResult
}

// Failed reports how many lists kept their previous snapshot.
func (r *CycleResult) Failed() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, l := range r.Lists {
		if l.Err != nil {
			n++
		}
	}
	return n
}
