package sanitize

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
)

// Chain runs filters in order. A nil filter is skipped; a dropped response
// stops the chain.
func Chain(filters ...ResponseFilter) ResponseFilter {
	return func(resp *cassette.Response) (*cassette.Response, error) {
		for _, f := range filters {
			if f == nil {
				continue
			}
			var err error
			if resp, err = f(resp); err != nil || resp == nil {
				return nil, err
			}
		}
		return resp, nil
	}
}

// DropStatus drops interactions whose response has one of the given codes.
func DropStatus(codes ...int) ResponseFilter {
	return func(resp *cassette.Response) (*cassette.Response, error) {
		for _, c := range codes {
			if resp.Code == c {
				return nil, nil
			}
		}
		return resp, nil
	}
}

// BlankBodyContaining replaces the whole body with blank when it contains
// any of the given substrings.
func BlankBodyContaining(blank string, substrings ...string) ResponseFilter {
	return func(resp *cassette.Response) (*cassette.Response, error) {
		for _, s := range substrings {
			if strings.Contains(resp.Body, s) {
				setBody(resp, blank)
				break
			}
		}
		return resp, nil
	}
}

// ReplacePattern substitutes every match of re in the body with repl.
func ReplacePattern(re *regexp.Regexp, repl string) ResponseFilter {
	return func(resp *cassette.Response) (*cassette.Response, error) {
		if re.MatchString(resp.Body) {
			setBody(resp, re.ReplaceAllString(resp.Body, repl))
		}
		return resp, nil
	}
}

func setBody(resp *cassette.Response, body string) {
	resp.Body = body
	if resp.Headers != nil && resp.Headers.Get("Content-Length") != "" {
		resp.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	}
}
