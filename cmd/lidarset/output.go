package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// maxIssueRows bounds the issue table printed after a stage.
const maxIssueRows = 50

func issueMessage(issue *pipeline.Issue) string {
	if issue.Err == nil {
		return ""
	}
	return issue.Err.Error()
}

func printResult(w io.Writer, res *pipeline.Result) {
	if res == nil {
		return
	}
	fmt.Fprintln(w, res.Summary())
	if len(res.Issues) == 0 {
		return
	}

	rows := make([][]string, 0, min(len(res.Issues), maxIssueRows))
	for i, issue := range res.Issues {
		if i == maxIssueRows {
			break
		}
		index := ""
		if issue.Index != nil {
			index = strconv.Itoa(*issue.Index)
		}
		rows = append(rows, []string{issue.Stage, issue.KindName(), issue.Timestamp, index, issue.Path, issueMessage(issue)})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Stage", "Kind", "Timestamp", "Index", "Path", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
	if len(res.Issues) > maxIssueRows {
		fmt.Fprintf(w, "... %d more issue(s) not shown\n", len(res.Issues)-maxIssueRows)
	}
}
