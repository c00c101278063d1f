package metadata

import (
	"bytes"
	"html"
	"net/url"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseHTML walks the document head for Open Graph, Twitter card and plain
// meta tags. Relative image and icon URLs are resolved against base.
func parseHTML(body []byte, base string) (Metadata, error) {
	doc, err := xhtml.Parse(bytes.NewReader(body))
	if err != nil {
		return Metadata{}, err
	}

	tags := map[string]string{}
	var title, icon string
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == xhtml.TextNode {
					title = n.FirstChild.Data
				}
			case atom.Meta:
				key := strings.ToLower(firstNonEmpty(attr(n, "property"), attr(n, "name")))
				if key != "" {
					if _, seen := tags[key]; !seen {
						tags[key] = attr(n, "content")
					}
				}
			case atom.Link:
				rel := strings.ToLower(attr(n, "rel"))
				if icon == "" && strings.Contains(rel, "icon") {
					icon = attr(n, "href")
				}
			case atom.Body:
				// everything we read lives in <head>
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	meta := Metadata{
		URL:         firstNonEmpty(tags["og:url"], base),
		Title:       firstNonEmpty(tags["og:title"], tags["twitter:title"], title),
		Description: firstNonEmpty(tags["og:description"], tags["twitter:description"], tags["description"]),
		Image:       resolve(base, firstNonEmpty(tags["og:image"], tags["og:image:url"], tags["twitter:image"])),
		Favicon:     resolve(base, firstNonEmpty(icon, "/favicon.ico")),
		SiteName:    tags["og:site_name"],
		Source:      SourceHTML,
	}
	return meta, nil
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func resolve(base, ref string) string {
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

var (
	titlePattern       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	ogTitlePattern     = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:title["'][^>]+content=["']([^"']*)["']`)
	descriptionPattern = regexp.MustCompile(`(?is)<meta[^>]+name=["']description["'][^>]+content=["']([^"']*)["']`)
	ogImagePattern     = regexp.MustCompile(`(?is)<meta[^>]+property=["']og:image["'][^>]+content=["']([^"']*)["']`)
)

// scrape reads the raw body with regular expressions. It catches pages whose
// markup is too broken for the tree walk to find anything useful.
func scrape(body []byte, base string) Metadata {
	find := func(re *regexp.Regexp) string {
		match := re.FindSubmatch(body)
		if match == nil {
			return ""
		}
		return strings.TrimSpace(html.UnescapeString(string(match[1])))
	}
	return Metadata{
		URL:         base,
		Title:       firstNonEmpty(find(ogTitlePattern), find(titlePattern)),
		Description: find(descriptionPattern),
		Image:       resolve(base, find(ogImagePattern)),
		Favicon:     resolve(base, "/favicon.ico"),
		Source:      SourceScrape,
	}
}
