package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/pretty"

	"github.com/yourorg/cavelog/pkg/types"
)

func printList(w io.Writer, list []types.Exchange) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMETHOD\tSTATUS\tDURATION\tSIZE\tSTARTED\tURL")
	for _, e := range list {
		status, size, started := "pending", "-", "-"
		if e.StatusCode != nil {
			status = strconv.Itoa(*e.StatusCode)
		}
		if e.ResponseBody != nil {
			size = humanize.IBytes(uint64(len(*e.ResponseBody)))
		}
		if e.StartTime != nil {
			started = humanize.Time(time.UnixMilli(*e.StartTime))
		}
		duration := e.Duration()
		if duration == "" {
			duration = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Method, status, duration, size, started, e.URL)
	}
	return tw.Flush()
}

func printExchange(w io.Writer, e types.Exchange) {
	fmt.Fprintf(w, "#%d %s %s\n", e.ID, e.Method, e.URL)
	if e.StartTime != nil {
		fmt.Fprintf(w, "started:  %s\n", time.UnixMilli(*e.StartTime).Format(time.RFC3339Nano))
	}
	if e.StatusCode != nil {
		fmt.Fprintf(w, "status:   %d\n", *e.StatusCode)
	} else {
		fmt.Fprintln(w, "status:   pending")
	}
	if d := e.Duration(); d != "" {
		fmt.Fprintf(w, "duration: %s\n", d)
	}

	names := make([]string, 0, len(e.RequestHeaders))
	for name := range e.RequestHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		fmt.Fprintln(w, "\nrequest headers:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %s\n", name, e.RequestHeaders[name])
		}
	}
	if e.RequestContentType != nil {
		fmt.Fprintf(w, "  Content-Type: %s\n", *e.RequestContentType)
	}
	if e.RequestContentLength != nil {
		fmt.Fprintf(w, "  Content-Length: %s\n", *e.RequestContentLength)
	}
	printBody(w, "request body", e.RequestBody)
	printBody(w, "response body", e.ResponseBody)
}

func printBody(w io.Writer, label string, body *string) {
	if body == nil {
		return
	}
	fmt.Fprintf(w, "\n%s (%s):\n", label, humanize.IBytes(uint64(len(*body))))
	b := []byte(*body)
	if json.Valid(b) {
		b = pretty.Pretty(b)
	}
	fmt.Fprintln(w, string(b))
}
