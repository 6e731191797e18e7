// Package main hosts the lidarset CLI.
//
// Each subcommand maps onto one dataset stage (extract, reorganize, label,
// scale) or an inspection tool (validate, report, view, browse, runs). The
// command context resolves configuration, logging, and the optional run
// catalog once so subcommands only translate flags into stage calls.
//
// Exit status: 0 for a clean run, 2 when the run completed with reported
// issues, 1 for a fatal error.
package main
