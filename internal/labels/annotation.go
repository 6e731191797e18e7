// Package labels applies point-level class annotations to dataset frames.
package labels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

// MaxAnnotationSize bounds annotation and frame map files.
const MaxAnnotationSize = 256 * 1024 * 1024

// Annotation is a point-cloud annotation export: a set of labeled objects
// and, per frame, the figures that assign points to them.
type Annotation struct {
	Objects []Object
	Frames  []Frame

	objects map[string]*Object
}

// Object is an annotated object and its class.
type Object struct {
	Key        string
	ClassTitle string
}

// Frame lists the figures of one annotated frame.
type Frame struct {
	Index   int
	Figures []Figure
}

// Figure assigns a set of point indices to an object. Problem is non-empty
// when the figure lacks a required field; such figures are kept so the
// injector can report them individually.
type Figure struct {
	ObjectKey string
	Indices   []int
	Problem   string
}

// Object returns the first object with the given key.
func (a *Annotation) Object(key string) (*Object, bool) {
	o, ok := a.objects[key]
	return o, ok
}

type rawAnnotation struct {
	Objects []struct {
		Key        *string `json:"key"`
		ClassTitle *string `json:"classTitle"`
	} `json:"objects"`
	Frames []struct {
		Index   *int `json:"index"`
		Figures []struct {
			ObjectKey *string `json:"objectKey"`
			Geometry  *struct {
				Indices *[]int `json:"indices"`
			} `json:"geometry"`
		} `json:"figures"`
	} `json:"frames"`
}

// DecodeAnnotation parses and validates an annotation document. Objects
// must carry key and classTitle, frames must carry index; violations fail
// the whole document with ErrSourceFormat.
func DecodeAnnotation(r io.Reader) (*Annotation, error) {
	var raw rawAnnotation
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode annotation: %w", pipeline.ErrSourceFormat, err)
	}

	ann := &Annotation{objects: make(map[string]*Object, len(raw.Objects))}
	for i, o := range raw.Objects {
		if o.Key == nil || *o.Key == "" {
			return nil, fmt.Errorf("%w: objects[%d]: missing key", pipeline.ErrSourceFormat, i)
		}
		if o.ClassTitle == nil {
			return nil, fmt.Errorf("%w: objects[%d] (%s): missing classTitle", pipeline.ErrSourceFormat, i, *o.Key)
		}
		ann.Objects = append(ann.Objects, Object{Key: *o.Key, ClassTitle: *o.ClassTitle})
	}
	for i := range ann.Objects {
		obj := &ann.Objects[i]
		if _, dup := ann.objects[obj.Key]; dup {
			logging.Warnf("labels: duplicate object key %q; using the first", obj.Key)
			continue
		}
		ann.objects[obj.Key] = obj
	}

	for i, f := range raw.Frames {
		if f.Index == nil {
			return nil, fmt.Errorf("%w: frames[%d]: missing index", pipeline.ErrSourceFormat, i)
		}
		frame := Frame{Index: *f.Index}
		for _, fig := range f.Figures {
			var out Figure
			switch {
			case fig.ObjectKey == nil || *fig.ObjectKey == "":
				out.Problem = "missing objectKey"
			case fig.Geometry == nil || fig.Geometry.Indices == nil:
				out.ObjectKey = *fig.ObjectKey
				out.Problem = "missing geometry.indices"
			default:
				out.ObjectKey = *fig.ObjectKey
				out.Indices = *fig.Geometry.Indices
			}
			frame.Figures = append(frame.Figures, out)
		}
		ann.Frames = append(ann.Frames, frame)
	}
	return ann, nil
}

func readBounded(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrIO, err)
	}
	if info.Size() > MaxAnnotationSize {
		return nil, fmt.Errorf("%w: %s too large: %d bytes (max %d)", pipeline.ErrSourceFormat, path, info.Size(), MaxAnnotationSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrIO, err)
	}
	return data, nil
}

// LoadAnnotation reads and decodes an annotation file.
func LoadAnnotation(path string) (*Annotation, error) {
	data, err := readBounded(path)
	if err != nil {
		return nil, err
	}
	ann, err := DecodeAnnotation(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ann, nil
}
