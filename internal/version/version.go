/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package version reports build information stamped in with -ldflags.
package version

import (
	"strconv"
	"time"
)

const DevelopmentVersion = "dev"

var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	// Unix seconds or RFC 3339.
	BuildTimestamp = ""
)

type Info struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *time.Time `json:"buildTimestamp,omitempty"`
}

func Current() Info {
	productVersion := ProductVersion
	if productVersion == "" {
		productVersion = DevelopmentVersion
	}

	return Info{
		Version:    productVersion,
		CommitHash: CommitHash,
		BuildTime:  parseBuildTimestamp(BuildTimestamp),
	}
}

func parseBuildTimestamp(ts string) *time.Time {
	if ts == "" {
		return nil
	}
	if seconds, parseErr := strconv.ParseInt(ts, 10, 64); parseErr == nil {
		t := time.Unix(seconds, 0).UTC()
		return &t
	}
	if t, parseErr := time.Parse(time.RFC3339, ts); parseErr == nil {
		return &t
	}
	return nil
}
