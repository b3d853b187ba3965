package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format is an output encoding for Render.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json or yaml. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	}

	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Render writes v to w in the given format. Tables are supported for the
// dashboard's own types; anything else falls back to YAML.
func Render(w io.Writer, format Format, v interface{}) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case FormatYAML:
		return renderYAML(w, v)
	case FormatTable, "":
		return renderTable(w, v)
	}

	return fmt.Errorf("unknown output format %q", format)
}

func renderYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}

	return enc.Close()
}

func renderTable(w io.Writer, v interface{}) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	switch t := v.(type) {
	case Page[Entry]:
		writeEntries(tw, t.Items)
		fmt.Fprintf(tw, "\npage %d of %d (%d campers)\n", t.Page, max(t.TotalPages, 1), t.Total)
	case []Entry:
		writeEntries(tw, t)
	case Page[Camper]:
		writeCampers(tw, t.Items)
		fmt.Fprintf(tw, "\npage %d of %d (%d campers)\n", t.Page, max(t.TotalPages, 1), t.Total)
	case []Camper:
		writeCampers(tw, t)
	case Summary:
		fmt.Fprintf(tw, "TOTAL\tINCOMPLETE\n%d\t%d\n", t.Total, t.Incomplete)
	case []Record:
		writeRecords(tw, t)
	case Record:
		writeRecords(tw, []Record{t})
	default:
		return renderYAML(w, v)
	}

	return tw.Flush()
}

func writeEntries(w io.Writer, entries []Entry) {
	fmt.Fprintln(w, "ID\tNAME\tVIDEO\tDREAMS\tPROJECTS\tVIDEOS\tSTATUS")

	for _, e := range entries {
		status := "pending"
		switch {
		case e.Missing:
			status = "unknown"
		case e.Complete:
			status = "complete"
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.FullName,
			mark(e.MainVideoURL != ""), mark(e.HasDreams), mark(e.HasProjects), mark(e.HasVideos),
			status,
		)
	}
}

func writeCampers(w io.Writer, campers []Camper) {
	fmt.Fprintln(w, "ID\tNAME\tVIDEO")

	for _, c := range campers {
		fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.FullName, mark(c.MainVideoURL != ""))
	}
}

// writeRecords prints one column per key seen across all records, sorted.
func writeRecords(w io.Writer, records []Record) {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	header := make([]string, len(keys))
	for i, k := range keys {
		header[i] = strings.ToUpper(k)
	}

	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, r := range records {
		cells := make([]string, len(keys))
		for i, k := range keys {
			cells[i] = cell(r[k])
		}

		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
}

func cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; print integers without a fraction.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}

		return fmt.Sprintf("%g", t)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return "?"
		}

		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}

	return "no"
}
