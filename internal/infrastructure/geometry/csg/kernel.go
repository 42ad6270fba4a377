// Package csg is a pure-Go geometry kernel. Solids are immutable trees of
// primitives and boolean operations with an axis-aligned bounding box.
// Export writes the tree as a YAML document; it does not tessellate.
//
// Placement follows CadQuery: boxes and cylinders are centered on the origin,
// box width runs along X, height along Y and depth along Z, and cylinders
// stand on Z.
package csg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/cadsmith/internal/domain"
	"github.com/doeshing/cadsmith/internal/ports"
)

// FormatTag identifies the exported document layout.
const FormatTag = "cadsmith-csg/1"

var (
	ErrForeignSolid     = errors.New("csg: solid was not created by this kernel")
	ErrInvalidDimension = errors.New("csg: dimensions must be positive")
	ErrFilletTooLarge   = errors.New("csg: fillet radius too large for solid")
	ErrDisjointSubtract = errors.New("csg: tool does not intersect target")
)

// Vec is a point or offset in model space.
type Vec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func (v Vec) add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Vec `yaml:"min"`
	Max Vec `yaml:"max"`
}

func (b Bounds) shift(o Vec) Bounds { return Bounds{Min: b.Min.add(o), Max: b.Max.add(o)} }

// Intersects reports whether two boxes overlap with positive volume.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Min.X < o.Max.X && o.Min.X < b.Max.X &&
		b.Min.Y < o.Max.Y && o.Min.Y < b.Max.Y &&
		b.Min.Z < o.Max.Z && o.Min.Z < b.Max.Z
}

// Size is the extent along each axis.
func (b Bounds) Size() Vec {
	return Vec{b.Max.X - b.Min.X, b.Max.Y - b.Min.Y, b.Max.Z - b.Min.Z}
}

// Node is one step of a construction tree.
type Node struct {
	Op       string  `yaml:"op"`
	Width    float64 `yaml:"width,omitempty"`
	Height   float64 `yaml:"height,omitempty"`
	Depth    float64 `yaml:"depth,omitempty"`
	Radius   float64 `yaml:"radius,omitempty"`
	Offset   *Vec    `yaml:"offset,omitempty"`
	Children []*Node `yaml:"children,omitempty"`
}

// Solid is the kernel's handle. Its fields never change after creation.
type Solid struct {
	root *Node
	// feature is the smallest dimension of the base primitive; fillets must
	// fit inside half of it.
	feature float64
	bounds  Bounds
}

// Root returns the construction tree.
func (s *Solid) Root() *Node { return s.root }

// Bounds returns the solid's bounding box.
func (s *Solid) Bounds() Bounds { return s.bounds }

// Kernel implements ports.Kernel.
type Kernel struct{}

// New returns a csg kernel.
func New() *Kernel { return &Kernel{} }

func (k *Kernel) Name() string { return domain.KernelCSG }

func (k *Kernel) CreateBox(width, height, depth float64) (ports.Solid, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("%w: box %gx%gx%g", ErrInvalidDimension, width, height, depth)
	}
	half := Vec{width / 2, height / 2, depth / 2}
	return &Solid{
		root:    &Node{Op: "box", Width: width, Height: height, Depth: depth},
		feature: math.Min(width, math.Min(height, depth)),
		bounds:  Bounds{Min: Vec{-half.X, -half.Y, -half.Z}, Max: half},
	}, nil
}

func (k *Kernel) CreateCylinder(radius, height float64) (ports.Solid, error) {
	if radius <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: cylinder r=%g h=%g", ErrInvalidDimension, radius, height)
	}
	return &Solid{
		root:    &Node{Op: "cylinder", Radius: radius, Height: height},
		feature: math.Min(2*radius, height),
		bounds: Bounds{
			Min: Vec{-radius, -radius, -height / 2},
			Max: Vec{radius, radius, height / 2},
		},
	}, nil
}

func (k *Kernel) Translate(s ports.Solid, x, y, z float64) (ports.Solid, error) {
	solid, err := own(s)
	if err != nil {
		return nil, err
	}
	offset := Vec{x, y, z}
	return &Solid{
		root:    &Node{Op: "translate", Offset: &offset, Children: []*Node{solid.root}},
		feature: solid.feature,
		bounds:  solid.bounds.shift(offset),
	}, nil
}

func (k *Kernel) Subtract(target, tool ports.Solid) (ports.Solid, error) {
	t, err := own(target)
	if err != nil {
		return nil, err
	}
	c, err := own(tool)
	if err != nil {
		return nil, err
	}
	if !t.bounds.Intersects(c.bounds) {
		return nil, ErrDisjointSubtract
	}
	return &Solid{
		root:    &Node{Op: "subtract", Children: []*Node{t.root, c.root}},
		feature: t.feature,
		bounds:  t.bounds,
	}, nil
}

func (k *Kernel) Fillet(s ports.Solid, radius float64) (ports.Solid, error) {
	solid, err := own(s)
	if err != nil {
		return nil, err
	}
	if radius <= 0 {
		return nil, fmt.Errorf("%w: fillet r=%g", ErrInvalidDimension, radius)
	}
	if radius >= solid.feature/2 {
		return nil, fmt.Errorf("%w: r=%g, smallest feature %g", ErrFilletTooLarge, radius, solid.feature)
	}
	return &Solid{
		root:    &Node{Op: "fillet", Radius: radius, Children: []*Node{solid.root}},
		feature: solid.feature - 2*radius,
		bounds:  solid.bounds,
	}, nil
}

// Document is the exported file layout.
type Document struct {
	Format string `yaml:"format"`
	Target string `yaml:"target"`
	Bounds Bounds `yaml:"bounds"`
	Root   *Node  `yaml:"root"`
}

// Export writes s to path. The file is written next to its destination and
// renamed into place, so readers never see a partial artifact.
func (k *Kernel) Export(ctx context.Context, s ports.Solid, path string) (err error) {
	solid, err := own(s)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(Document{
		Format: FormatTag,
		Target: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Bounds: solid.bounds,
		Root:   solid.root,
	})
	if err != nil {
		return fmt.Errorf("encode solid: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cadsmith-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, os.Remove(tmp.Name()))
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err = tmp.Chmod(domain.ArtifactPermissions); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod artifact: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// ReadDocument loads an exported artifact.
func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Format != FormatTag {
		return Document{}, fmt.Errorf("decode %s: unexpected format %q", path, doc.Format)
	}
	return doc, nil
}

func own(s ports.Solid) (*Solid, error) {
	solid, ok := s.(*Solid)
	if !ok || solid == nil {
		return nil, ErrForeignSolid
	}
	return solid, nil
}
