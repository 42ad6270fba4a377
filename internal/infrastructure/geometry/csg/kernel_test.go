package csg_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/cadsmith/internal/infrastructure/geometry/csg"
)

func TestKernel_PrimitivesAreCentered(t *testing.T) {
	k := csg.New()

	box, err := k.CreateBox(40, 20, 5)
	require.NoError(t, err)
	assert.Equal(t, csg.Bounds{
		Min: csg.Vec{X: -20, Y: -10, Z: -2.5},
		Max: csg.Vec{X: 20, Y: 10, Z: 2.5},
	}, box.(*csg.Solid).Bounds())

	cyl, err := k.CreateCylinder(3, 10)
	require.NoError(t, err)
	assert.Equal(t, csg.Vec{X: 6, Y: 6, Z: 10}, cyl.(*csg.Solid).Bounds().Size())
}

func TestKernel_RejectsNonPositiveDimensions(t *testing.T) {
	k := csg.New()
	_, err := k.CreateBox(0, 1, 1)
	assert.ErrorIs(t, err, csg.ErrInvalidDimension)
	_, err = k.CreateCylinder(1, -1)
	assert.ErrorIs(t, err, csg.ErrInvalidDimension)
}

func TestKernel_TranslateLeavesInputUntouched(t *testing.T) {
	k := csg.New()
	box, _ := k.CreateBox(2, 2, 2)
	moved, err := k.Translate(box, 10, 0, -1)
	require.NoError(t, err)

	assert.Equal(t, csg.Vec{X: -1, Y: -1, Z: -1}, box.(*csg.Solid).Bounds().Min)
	assert.Equal(t, csg.Vec{X: 9, Y: -1, Z: -2}, moved.(*csg.Solid).Bounds().Min)
	assert.Equal(t, "translate", moved.(*csg.Solid).Root().Op)
}

func TestKernel_SubtractNeedsOverlap(t *testing.T) {
	k := csg.New()
	plate, _ := k.CreateBox(40, 20, 5)
	hole, _ := k.CreateCylinder(3, 10)

	cut, err := k.Subtract(plate, hole)
	require.NoError(t, err)
	assert.Equal(t, plate.(*csg.Solid).Bounds(), cut.(*csg.Solid).Bounds())
	assert.Len(t, cut.(*csg.Solid).Root().Children, 2)

	far, _ := k.Translate(hole, 100, 0, 0)
	_, err = k.Subtract(plate, far)
	assert.ErrorIs(t, err, csg.ErrDisjointSubtract)
}

func TestKernel_FilletMustFit(t *testing.T) {
	k := csg.New()
	cyl, _ := k.CreateCylinder(10, 30)

	_, err := k.Fillet(cyl, 2)
	assert.NoError(t, err)

	_, err = k.Fillet(cyl, 10)
	assert.ErrorIs(t, err, csg.ErrFilletTooLarge)

	plate, _ := k.CreateBox(40, 20, 5)
	_, err = k.Fillet(plate, 2.5)
	assert.ErrorIs(t, err, csg.ErrFilletTooLarge)
}

func TestKernel_ForeignSolid(t *testing.T) {
	_, err := csg.New().Translate("not a solid", 1, 1, 1)
	assert.ErrorIs(t, err, csg.ErrForeignSolid)
}

func TestKernel_ExportIsDeterministic(t *testing.T) {
	k := csg.New()
	dir := t.TempDir()

	build := func() interface{} {
		plate, _ := k.CreateBox(40, 20, 5)
		hole, _ := k.CreateCylinder(3, 10)
		moved, _ := k.Translate(hole, 5, 0, 0)
		cut, err := k.Subtract(plate, moved)
		require.NoError(t, err)
		return cut
	}

	first := filepath.Join(dir, "a.step")
	second := filepath.Join(dir, "b.step")
	require.NoError(t, k.Export(context.Background(), build(), first))
	require.NoError(t, k.Export(context.Background(), build(), second))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	doc, err := csg.ReadDocument(first)
	require.NoError(t, err)
	assert.Equal(t, csg.FormatTag, doc.Format)
	assert.Equal(t, "step", doc.Target)
	assert.Equal(t, "subtract", doc.Root.Op)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestKernel_ExportHonoursCancellation(t *testing.T) {
	k := csg.New()
	box, _ := k.CreateBox(1, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "x.step")
	assert.ErrorIs(t, k.Export(ctx, box, path), context.Canceled)
	assert.NoFileExists(t, path)
}
