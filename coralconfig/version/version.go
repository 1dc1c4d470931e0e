// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version derives the reported version string from the build
// tag stamped in at link time.
package version

import (
	"fmt"
	"regexp"
	"strings"
)

// appBuild is overridden during release builds with
// '-ldflags "-X .../version.appBuild=corald-v1.2.3"'.  Untagged builds
// report a custom version.
var appBuild string

var userAgentName = "unknown" // corald, coralctl...
var version = "0.0.0-custom"

func init() {
	if len(appBuild) == 0 {
		// custom build
		return
	}
	var major, minor, patch uint
	tag := "-custom"
	// corald-v1.1.0-19-gfa3ba767
	if _, err := fmt.Sscanf(appBuild, "corald-v%d.%d.%d", &major, &minor, &patch); err == nil {
		tag = ""
		if x := regexp.MustCompile(`-[0-9]+-g[0-9a-f]{8}`).FindString(appBuild); len(x) > 0 {
			tag += "-" + x[strings.LastIndex(x, "-")+2:]
		}
		if strings.Contains(appBuild, "-dirty") {
			tag += "-dirty"
		}
	}
	version = fmt.Sprintf("%d.%d.%d%s", major, minor, patch, tag)
}

// SetUserAgentName names the binary reporting this version.  It may be
// set only once, by main.
func SetUserAgentName(ua string) {
	if userAgentName != "unknown" {
		panic("setting useragent to [" + ua +
			"] failed, useragent was already set to [" + userAgentName + "]")
	}
	userAgentName = ua
}

// Version returns the semantic version derived from the build tag.
func Version() string {
	return version
}

// UserAgentName returns the name set by main, or "unknown".
func UserAgentName() string {
	return userAgentName
}
