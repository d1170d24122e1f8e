package scraper

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-tap-menu/httpclient"
)

// ErrParse indicates a detail page lacked a field the menu needs. It only
// ever affects the one item.
type ErrParse struct {
	URL string
	Err error
}

func (e ErrParse) Error() string {
	return fmt.Errorf("parse %s: %w", e.URL, e.Err).Error()
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

// ErrStructure indicates a listing page without the expected item container.
// The whole list fails for the cycle.
type ErrStructure struct {
	URL      string
	Selector string
}

func (e ErrStructure) Error() string {
	return fmt.Sprintf("structure: %s has no %q container", e.URL, e.Selector)
}

func errorTypeLabel(err error) string {
	var parseErr ErrParse
	if errors.As(err, &parseErr) {
		return "parse"
	}
	var structErr ErrStructure
	if errors.As(err, &structErr) {
		return "structure"
	}
	return httpclient.ErrorType(err)
}

// retryable reports whether another attempt may succeed: the proxy was at
// fault (rotated first), or the failure was transient on the network side.
func retryable(err error) bool {
	return httpclient.IsProxyFault(err) || httpclient.IsTransient(err)
}

// listRetryable also retries unclassified failures. Structure, parse, 404 and
// other status errors stay permanent.
func listRetryable(err error) bool {
	return retryable(err) || errorTypeLabel(err) == "other"
}
