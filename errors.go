/*
Copyright © 2025 UsoMato
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Engine failure conditions, mapped onto HTTP statuses in web.go.
// Guess rejections are deliberately not errors; chat traffic is
// untrusted and unbounded, so a bad guess is a result, not a fault.
var (
	errCatalogNotFound   = errors.New("catalog file not found")
	errCatalogUnreadable = errors.New("catalog unreadable")
	errNoActiveSong      = errors.New("no active song")
	errInvalidTransition = errors.New("invalid game transition")
	errChatSubscribe     = errors.New("chat subscription rejected")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
