// Package applog holds the one shared diagnostic logger used across the
// extractor. It never carries control flow: failures are always returned as
// errors, this is purely for the "applying operation #3" / "reusing zip
// stream" kind of breadcrumbs.
package applog

import (
	"log"
	"os"
)

// Logger is shared by every internal package instead of each holding its own,
// so CLI callers can redirect all extractor diagnostics with one SetOutput.
var Logger = log.New(os.Stderr, "", log.LstdFlags)
