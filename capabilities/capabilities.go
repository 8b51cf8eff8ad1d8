// Package capabilities reads a WMTS GetCapabilities document and extracts
// the zoom levels of one of its tile matrix sets.
// See https://www.ogc.org/standard/wmts/
package capabilities

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/muesli/reflow/truncate"
	"golang.org/x/net/html/charset"
)

const snippetWidth = 80

// Element is a node of a parsed capabilities document.
// Name is the local name, the namespace is kept apart in Space.
type Element struct {
	Name     string
	Space    string
	Text     string
	Children []*Element
}

// Child returns the first direct child with the given local name
func (e *Element) Child(name string) *Element {
	for _, child := range e.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// ChildrenNamed returns all direct children with the given local name
func (e *Element) ChildrenNamed(name string) []*Element {
	var named []*Element
	for _, child := range e.Children {
		if child.Name == name {
			named = append(named, child)
		}
	}
	return named
}

// Walk calls fn for every descendant of root, depth-first in document order.
// The children of root have depth 0.
func Walk(root *Element, fn func(depth int, element *Element)) {
	walkElements(root.Children, 0, fn)
}

func walkElements(elements []*Element, depth int, fn func(int, *Element)) {
	for _, element := range elements {
		fn(depth, element)
		walkElements(element.Children, depth+1, fn)
	}
}

// Parse reads an XML document into an Element tree and returns the root element.
func Parse(r io.Reader) (*Element, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel

	var root *Element
	var stack []*Element
	var text []*strings.Builder
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		switch t := token.(type) {
		case xml.StartElement:
			element := &Element{Name: t.Name.Local, Space: t.Name.Space}
			if len(stack) == 0 {
				if root != nil {
					return nil, &ParseError{Err: fmt.Errorf("more than one root element, second is <%s>", t.Name.Local)}
				}
				root = element
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, element)
			}
			stack = append(stack, element)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			last := len(stack) - 1
			stack[last].Text = strings.TrimSpace(text[last].String())
			stack = stack[:last]
			text = text[:last]
		case xml.CharData:
			if len(stack) > 0 {
				text[len(text)-1].Write(t)
			}
		}
	}
	if root == nil {
		return nil, &ParseError{Err: errors.New("no root element")}
	}
	if len(stack) > 0 {
		return nil, &ParseError{Err: fmt.Errorf("element <%s> is not closed", stack[len(stack)-1].Name)}
	}
	return root, nil
}

// Fetch performs a single GET on url and parses the response body.
// Any status outside 2xx is a FetchError.
func Fetch(ctx context.Context, client *http.Client, url string) (*Element, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Location: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Location: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &FetchError{Location: url, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Location: url, StatusCode: resp.StatusCode, Err: err}
	}
	return parseBody(body)
}

// Load reads a capabilities document from a http(s) URL or from a local file.
func Load(ctx context.Context, client *http.Client, location string) (*Element, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return Fetch(ctx, client, location)
	}
	body, err := os.ReadFile(location)
	if err != nil {
		return nil, &FetchError{Location: location, Err: err}
	}
	return parseBody(body)
}

func parseBody(body []byte) (*Element, error) {
	doc, err := Parse(bytes.NewReader(body))
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			snippet := strings.Join(strings.Fields(string(body)), " ")
			parseErr.Snippet = truncate.StringWithTail(snippet, snippetWidth, "...")
		}
		return nil, err
	}
	return doc, nil
}
