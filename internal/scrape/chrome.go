// Package scrape fetches chapter text from Wikisource-style pages with
// headless Chrome.
package scrape

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/Chhavidabla/BookPublisherAI/internal/pipeline"
)

// titleSelectors is tried in order; the document title is the last resort.
var titleSelectors = []string{
	"h1.firstHeading",
	"h1",
	".mw-page-title-main",
	"#firstHeading",
}

// contentSelectors is tried in order for the main article body.
var contentSelectors = []string{
	".mw-parser-output",
	"#mw-content-text",
	".mw-content-container",
	"main",
}

// removeScript strips navigation, edit links and other chrome from the
// content node before its text is read.
const removeScript = `
(() => {
	const unwanted = [
		'.mw-editsection', '.navbox', '.infobox', '.mw-references-wrap',
		'.wikisource-nav', '.mw-jump-link', '.printfooter', '.catlinks',
	];
	for (const sel of unwanted) {
		document.querySelectorAll(sel).forEach(el => el.remove());
	}
})()`

// Scraper drives a headless Chrome instance. A non-empty OutputDir enables
// full-page screenshots of every scraped page.
type Scraper struct {
	Timeout   time.Duration
	OutputDir string
}

func New(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Scraper{Timeout: timeout}
}

// WithScreenshots saves a full-page PNG per scrape under dir/screenshots.
func (s *Scraper) WithScreenshots(dir string) *Scraper {
	s.OutputDir = dir
	return s
}

// Scrape loads the page, extracts title and article text, and optionally
// captures a screenshot. Navigation and extraction failures are transient:
// the same URL often succeeds on retry.
func (s *Scraper) Scrape(ctx context.Context, url string) (pipeline.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var pageTitle, bodyHTMLText string
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(removeScript, nil),
		chromedp.Title(&pageTitle),
		chromedp.Evaluate(extractScript(), &bodyHTMLText),
	}
	if s.OutputDir != "" {
		tasks = append(tasks, chromedp.FullScreenshot(&screenshot, 90))
	}

	if err := chromedp.Run(taskCtx, tasks...); err != nil {
		return pipeline.Page{}, pipeline.Transient("scrape "+url, err)
	}

	title, content := splitExtracted(bodyHTMLText)
	if title == "" {
		title = strings.TrimSpace(pageTitle)
	}
	if title == "" {
		title = "Unknown Title"
	}
	content = CleanContent(content)
	if content == "" {
		return pipeline.Page{}, pipeline.Fatal("scrape "+url, fmt.Errorf("no article content found"))
	}

	page := pipeline.Page{
		Title:   title,
		Content: content,
		Metadata: map[string]any{
			"scraped_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if info := bookInfoFromURL(url); len(info) > 0 {
		page.Metadata["book_info"] = info
	}

	if s.OutputDir != "" && len(screenshot) > 0 {
		if path, err := s.saveScreenshot(title, screenshot); err != nil {
			log.Printf("scrape: screenshot for %s: %v", url, err)
		} else {
			page.Metadata["screenshot_path"] = path
		}
	}

	return page, nil
}

// extractScript finds the title and article text in one evaluation and
// returns them separated by a record separator byte.
func extractScript() string {
	titleList := "['" + strings.Join(titleSelectors, "','") + "']"
	contentList := "['" + strings.Join(contentSelectors, "','") + "']"
	return `(() => {
	let title = '';
	for (const sel of ` + titleList + `) {
		const el = document.querySelector(sel);
		if (el && el.textContent.trim()) { title = el.textContent.trim(); break; }
	}
	let content = '';
	for (const sel of ` + contentList + `) {
		const el = document.querySelector(sel);
		if (el && el.textContent.trim().length > 100) { content = el.textContent; break; }
	}
	if (!content) { content = document.body.textContent || ''; }
	return title + '' + content;
})()`
}

func splitExtracted(raw string) (title, content string) {
	title, content, found := strings.Cut(raw, "")
	if !found {
		return "", raw
	}
	return strings.TrimSpace(title), content
}

func (s *Scraper) saveScreenshot(title string, data []byte) (string, error) {
	dir := filepath.Join(s.OutputDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.png", SanitizeFilename(title), time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// CleanContent normalizes extracted article text: trims each line, drops
// bracketed editorial markers and near-empty lines, and collapses blank
// runs.
func CleanContent(content string) string {
	lines := strings.Split(content, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[") || len(line) <= 2 {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(cleaned, "\n\n"), "\n\n"))
}

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRuns       = regexp.MustCompile(`\s+`)
)

// SanitizeFilename makes a title safe for the local filesystem.
func SanitizeFilename(title string) string {
	s := invalidFilenameChars.ReplaceAllString(title, "_")
	s = whitespaceRuns.ReplaceAllString(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "document"
	}
	return s
}

// bookInfoFromURL derives book/part/chapter names from a Wikisource path
// like /wiki/The_Gates_of_Morning/Book_1/Chapter_1.
func bookInfoFromURL(url string) map[string]string {
	_, path, found := strings.Cut(url, "/wiki/")
	if !found {
		return nil
	}
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return nil
	}
	humanize := func(s string) string { return strings.ReplaceAll(s, "_", " ") }
	return map[string]string{
		"book_title": humanize(parts[0]),
		"book_part":  humanize(parts[1]),
		"chapter":    humanize(parts[2]),
	}
}
