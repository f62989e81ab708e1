// Package fetch discovers month folders on a remote HTTP index and
// downloads the telemetry files each folder is required to contain.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/fresco-hpc/fresco-etl/common"
)

// monthFolderPattern matches index entries like "2016-11" or "2016-11/".
var monthFolderPattern = regexp.MustCompile(`^\d{4}-\d{2}/?$`)

// Discoverer lists candidate month folders from a directory-style HTTP index.
type Discoverer struct {
	BaseURL string
	Client  *http.Client
	Logger  common.ILogger
}

func NewDiscoverer(baseURL string, logger common.ILogger) *Discoverer {
	return &Discoverer{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
		Logger:  logger,
	}
}

// ListFolders fetches the index page and returns the month folder names,
// sorted chronologically, with any trailing slash stripped.
func (d *Discoverer) ListFolders(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL, nil)
	if err != nil {
		return nil, common.NewError(common.EErrorKind.Source(), err)
	}
	req.Header.Set("User-Agent", common.UserAgent)

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Source(), err, "index unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, common.NewErrorf(common.EErrorKind.Source(),
			"index %s returned status %d", d.BaseURL, resp.StatusCode)
	}

	folders, err := parseIndexLinks(resp.Body)
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Source(), err, "malformed index page")
	}
	common.Logf(d.Logger, common.ELogLevel.Info(), "discovered %d month folders at %s", len(folders), d.BaseURL)
	return folders, nil
}

// FolderURL returns the absolute URL of a discovered folder.
func (d *Discoverer) FolderURL(folder string) string {
	base := strings.TrimRight(d.BaseURL, "/")
	return fmt.Sprintf("%s/%s/", base, url.PathEscape(folder))
}

func parseIndexLinks(body io.Reader) ([]string, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if monthFolderPattern.MatchString(attr.Val) {
					seen[strings.TrimSuffix(attr.Val, "/")] = struct{}{}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	folders := make([]string, 0, len(seen))
	for f := range seen {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	return folders, nil
}
