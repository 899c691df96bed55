// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package version

import (
	"runtime/debug"
	"time"
)

const (
	govcsTimeLayout = "2006-01-02T15:04:05Z" // vcs.time as embedded by the go tool
	ourTimeLayout   = "20060102"             // commit dates in version strings
)

// gitCommit and gitDate override the embedded VCS stamp. They are set by the
// linker, e.g.
//
//	go build -ldflags "-X github.com/sunyihoo/duplexrpc/internal/version.gitCommit=$(git rev-parse HEAD)"
var gitCommit, gitDate string

// VCSInfo represents the git repository state.
// VCSInfo 表示 git 仓库的状态。
type VCSInfo struct {
	Commit string // head commit hash
	Date   string // commit time in YYYYMMDD format
	Dirty  bool   // uncommitted changes at build time
}

// Short returns the first eight characters of the commit hash.
func (v VCSInfo) Short() string {
	if len(v.Commit) < 8 {
		return v.Commit
	}
	return v.Commit[:8]
}

// String formats the stamp as commit-date, with a dirty marker when the tree
// had local changes.
func (v VCSInfo) String() string {
	s := v.Short()
	if v.Date != "" {
		s += "-" + v.Date
	}
	if v.Dirty {
		s += "-dirty"
	}
	return s
}

// VCS returns version control information of the current executable. Linker
// values win over the stamp embedded by the go tool, which is only trusted for
// builds of this module itself.
func VCS() (VCSInfo, bool) {
	if gitCommit != "" {
		return VCSInfo{Commit: gitCommit, Date: gitDate}, true
	}
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Path != ourPath {
		return VCSInfo{}, false
	}
	return buildInfoVCS(info)
}

// buildInfoVCS extracts the vcs.* build settings. Both the revision and the
// commit time must be present.
func buildInfoVCS(info *debug.BuildInfo) (VCSInfo, bool) {
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	v := VCSInfo{
		Commit: settings["vcs.revision"],
		Dirty:  settings["vcs.modified"] == "true",
	}
	if t, err := time.Parse(govcsTimeLayout, settings["vcs.time"]); err == nil {
		v.Date = t.Format(ourTimeLayout)
	}
	return v, v.Commit != "" && v.Date != ""
}
