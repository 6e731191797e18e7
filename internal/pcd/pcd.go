// Package pcd writes and reads geometry-only PCD v0.7 files (x y z as
// float32), in ascii or binary encoding.
package pcd

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// Format is the DATA encoding of a PCD file.
type Format string

const (
	Ascii  Format = "ascii"
	Binary Format = "binary"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case Ascii:
		return Ascii, nil
	case Binary:
		return Binary, nil
	default:
		return "", fmt.Errorf("unsupported pcd format %q (want ascii or binary)", s)
	}
}

const commentChar = "#"

var headerFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// Write encodes points as an unorganized (HEIGHT 1) cloud.
func Write(out io.Writer, points []r3.Vector, format Format) error {
	if format != Ascii && format != Binary {
		return fmt.Errorf("unsupported pcd format %q", format)
	}
	w := bufio.NewWriter(out)
	fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n", len(points), len(points), format)

	buf := make([]byte, 12)
	for _, p := range points {
		switch format {
		case Binary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			w.Write(buf)
		case Ascii:
			fmt.Fprintf(w, "%s %s %s\n", formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z))
		}
	}
	return w.Flush()
}

// Encode returns the PCD encoding of points.
func Encode(points []r3.Vector, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, points, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(float64(float32(v)), 'g', -1, 32)
}

type header struct {
	fields []string
	size   []int
	typ    []string
	count  []int
	width  int
	height int
	points int
	data   Format
}

func parseHeaderLine(line string, index int, h *header) error {
	name := headerFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return fmt.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	atoi := func(tok string) (int, error) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return 0, fmt.Errorf("invalid %s field %s: %w", name, tok, err)
		}
		return n, nil
	}

	var err error
	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return fmt.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if strings.Join(tokens, " ") != "x y z" {
			return fmt.Errorf("unsupported pcd fields %s", value)
		}
		h.fields = tokens
	case "SIZE", "COUNT":
		if len(tokens) != len(h.fields) {
			return fmt.Errorf("unexpected number of fields in %s line", name)
		}
		vals := make([]int, len(tokens))
		for i, tok := range tokens {
			if vals[i], err = atoi(tok); err != nil {
				return err
			}
		}
		if name == "SIZE" {
			h.size = vals
		} else {
			h.count = vals
		}
	case "TYPE":
		if len(tokens) != len(h.fields) {
			return fmt.Errorf("unexpected number of fields in TYPE line")
		}
		h.typ = tokens
	case "WIDTH":
		h.width, err = atoi(value)
	case "HEIGHT":
		h.height, err = atoi(value)
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return fmt.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		if h.points, err = atoi(value); err != nil {
			return err
		}
		if h.points != h.width*h.height {
			return fmt.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", h.points, h.width*h.height)
		}
	case "DATA":
		h.data, err = ParseFormat(value)
	}
	return err
}

func (h *header) check() error {
	for i := range h.fields {
		if h.size[i] != 4 || h.typ[i] != "F" || h.count[i] != 1 {
			return fmt.Errorf("field %s must be a single float32", h.fields[i])
		}
	}
	return nil
}

// Read decodes a geometry-only PCD file written by Write or any tool using
// the same x y z float32 layout.
func Read(in io.Reader) ([]r3.Vector, error) {
	var h header
	r := bufio.NewReader(in)
	for n := 0; n < len(headerFields); {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header line %d: %w", n, err)
		}
		line, _, _ = strings.Cut(line, commentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parseHeaderLine(line, n, &h); err != nil {
			return nil, err
		}
		n++
	}
	if err := h.check(); err != nil {
		return nil, err
	}

	points := make([]r3.Vector, 0, h.points)
	switch h.data {
	case Ascii:
		for i := 0; i < h.points; i++ {
			line, err := r.ReadString('\n')
			if err != nil && !(err == io.EOF && line != "") {
				return nil, fmt.Errorf("point %d: %w", i, err)
			}
			tokens := strings.Fields(line)
			if len(tokens) != 3 {
				return nil, fmt.Errorf("unexpected number of fields in point %d", i)
			}
			var v [3]float64
			for j, tok := range tokens {
				if v[j], err = strconv.ParseFloat(tok, 64); err != nil {
					return nil, fmt.Errorf("invalid point %d field %s: %w", i, tok, err)
				}
			}
			points = append(points, r3.Vector{X: v[0], Y: v[1], Z: v[2]})
		}
	case Binary:
		buf := make([]byte, 12)
		for i := 0; i < h.points; i++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("point %d: %w", i, err)
			}
			points = append(points, r3.Vector{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))),
			})
		}
	}
	return points, nil
}
