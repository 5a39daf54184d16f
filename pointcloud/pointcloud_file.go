package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

// WriteToFile writes the field to path. The format is chosen by extension: .pcd (binary) or
// .ply (ascii).
func WriteToFile(pf *PointField, path string) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pcd" && ext != ".ply" {
		return errors.Errorf("do not know how to write file %q", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if ext == ".pcd" {
		err = ToPCD(pf, w, PCDBinary)
	} else {
		err = ToPLY(pf, w)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

// ToPCD writes out a point field to a PCD file of the specified type. Only valid points are
// written, as an unorganized cloud. Coordinates are in metres.
func ToPCD(pf *PointField, out io.Writer, outputType PCDType) error {
	hasColor := pf.colors != nil
	if _, err := fmt.Fprintf(out, "VERSION .7\n"); err != nil {
		return err
	}
	var err error
	if hasColor {
		_, err = fmt.Fprintf(out, "FIELDS x y z rgb\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F I\n"+
			"COUNT 1 1 1 1\n")
	} else {
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	size := pf.Size()
	if _, err := fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		size,
		1,
		size); err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.Errorf("unsupported pcd type %d", outputType)
	}
	if err != nil {
		return err
	}

	pf.Iterate(func(_, _ int, p r3.Vector, c color.NRGBA) bool {
		packed := colorToPCDInt(c)
		switch outputType {
		case PCDBinary:
			buf := make([]byte, 16)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], uint32(packed))
				_, err = out.Write(buf)
			} else {
				_, err = out.Write(buf[:12])
			}
		case PCDAscii:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", p.X, p.Y, p.Z, packed)
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
			}
		}
		return err == nil
	})
	return err
}

// ToPLY writes out a point field in the ascii PLY format.
func ToPLY(pf *PointField, out io.Writer) error {
	hasColor := pf.colors != nil
	header := fmt.Sprintf("ply\nformat ascii 1.0\nelement vertex %d\n"+
		"property float x\nproperty float y\nproperty float z\n", pf.Size())
	if hasColor {
		header += "property uchar red\nproperty uchar green\nproperty uchar blue\n"
	}
	header += "end_header\n"
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}
	var err error
	pf.Iterate(func(_, _ int, p r3.Vector, c color.NRGBA) bool {
		if hasColor {
			_, err = fmt.Fprintf(out, "%f %f %f %d %d %d\n", p.X, p.Y, p.Z, c.R, c.G, c.B)
		} else {
			_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
		}
		return err == nil
	})
	return err
}

func colorToPCDInt(c color.NRGBA) int {
	x := 0
	x |= (int(c.R) << 16)
	x |= (int(c.G) << 8)
	x |= (int(c.B) << 0)
	return x
}
