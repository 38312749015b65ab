package xdf

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/template"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/tientuk3/DensoToXDF/pkg/models"
)

// Definition is one renderable XDF table: the generated title plus every
// address and element format the tuning software needs to locate the map.
type Definition struct {
	Name string
	Kind models.MapKind

	XLen int
	YLen int

	XAddr    uint32
	YAddr    uint32
	DataAddr uint32

	XFormat    models.ElementFormat
	YFormat    models.ElementFormat
	DataFormat models.ElementFormat
}

// Name derives the definition title. It depends only on the map kind,
// dimensions and data address, so identical inputs always yield identical
// titles.
func Name(kind models.MapKind, xLen, yLen int, dataAddr uint32) string {
	if kind == models.Map3D {
		return fmt.Sprintf("3D map x%dy%d at %#x", xLen, yLen, dataAddr)
	}
	return fmt.Sprintf("2D map x%d at %#x", xLen, dataAddr)
}

// FromMapInfo translates a scanned lookup-table entry into a definition.
func FromMapInfo(m models.MapInfo) Definition {
	return Definition{
		Name:       Name(m.Kind, m.XLen, m.YLen, m.ZAddr),
		Kind:       m.Kind,
		XLen:       m.XLen,
		YLen:       m.YLen,
		XAddr:      m.XAddr,
		YAddr:      m.YAddr,
		DataAddr:   m.ZAddr,
		XFormat:    m.XFormat,
		YFormat:    m.YFormat,
		DataFormat: m.ZFormat,
	}
}

// Emit translates scanned entries into definitions, dropping any that do
// not describe a map fully contained in an image of imageSize bytes, and
// orders the result by data address so the output file mirrors the
// firmware memory layout. Equal addresses keep their input order.
func Emit(maps []models.MapInfo, imageSize int) []Definition {
	defs := make([]Definition, 0, len(maps))
	for _, m := range maps {
		if m.Validate(imageSize) != nil {
			continue
		}
		defs = append(defs, FromMapInfo(m))
	}

	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].DataAddr < defs[j].DataAddr
	})
	return defs
}

// document is the render model for the XDF template.
type document struct {
	Generated string
	ImageSize int
	Tables    []table
}

type table struct {
	Definition
	UniqueID int
}

// xdfTemplate reproduces the TunerPro XDF 1.70 grammar literally: fixed
// attribute order, fixed axis blocks, a REGION covering the whole binary.
// 2D tables get a single-label placeholder y axis.
var xdfTemplate = template.Must(template.New("xdf").Funcs(template.FuncMap{
	"hex": func(v interface{}) string { return fmt.Sprintf("%#x", v) },
}).Parse(`<!-- Written on {{.Generated}} by tientuk3 Denso SuperH XDF generator -->
<XDFFORMAT version="1.70">
    <XDFHEADER>
        <flags>0x1</flags>
        <description>Autogenerated by tientuk3 Denso SuperH XDF generator</description>
        <BASEOFFSET offset="0" subtract="0" />
        <DEFAULTS datasizeinbits="8" sigdigits="2" outputtype="1" signed="0" lsbfirst="0" float="0" />
        <REGION type="0xFFFFFFFF" startaddress="0x0" size="{{hex .ImageSize}}" regionflags="0x0" name="Binary File" desc="This region describes the bin file edited by this XDF" />
    </XDFHEADER>
{{- range .Tables}}
    <XDFTABLE uniqueid="{{hex .UniqueID}}" flags="0x0">
        <title>{{.Name}}</title>
        <XDFAXIS id="x" uniqueid="0x0">
            <EMBEDDEDDATA mmedaddress="{{hex .XAddr}}" mmedelementsizebits="{{.XFormat.Bits}}" mmedcolcount="{{.XLen}}" mmedmajorstridebits="{{.XFormat.Bits}}" mmedminorstridebits="0" />
            <indexcount>{{.XLen}}</indexcount>
            <embedinfo type="1" />
            <datatype>0</datatype>
            <unittype>0</unittype>
            <DALINK index="0" />
            <MATH equation="X">
                <VAR id="X" />
            </MATH>
        </XDFAXIS>
{{- if .Is3D}}
        <XDFAXIS id="y" uniqueid="0x0">
            <EMBEDDEDDATA mmedaddress="{{hex .YAddr}}" mmedelementsizebits="{{.YFormat.Bits}}" mmedcolcount="{{.YLen}}" mmedmajorstridebits="{{.YFormat.Bits}}" mmedminorstridebits="0" />
            <indexcount>{{.YLen}}</indexcount>
            <embedinfo type="1" />
            <datatype>0</datatype>
            <unittype>0</unittype>
            <DALINK index="0" />
            <MATH equation="X">
                <VAR id="X" />
            </MATH>
        </XDFAXIS>
{{- else}}
        <XDFAXIS id="y" uniqueid="0x0">
            <EMBEDDEDDATA mmedelementsizebits="8" mmedmajorstridebits="-32" mmedminorstridebits="0" />
            <indexcount>1</indexcount>
            <embedinfo type="1" />
            <datatype>0</datatype>
            <unittype>0</unittype>
            <DALINK index="0" />
            <LABEL index="0" value="0.00" />
            <MATH equation="X">
                <VAR id="X" />
            </MATH>
        </XDFAXIS>
{{- end}}
        <XDFAXIS id="z">
            <EMBEDDEDDATA mmedaddress="{{hex .DataAddr}}" mmedelementsizebits="{{.DataFormat.Bits}}" mmedrowcount="{{.Rows}}" mmedcolcount="{{.XLen}}" mmedmajorstridebits="0" />
            <decimalpl>2</decimalpl>
            <min>0.000000</min>
            <max>5000.000000</max>
            <outputtype>2</outputtype>
            <MATH equation="X">
                <VAR id="X" />
            </MATH>
        </XDFAXIS>
    </XDFTABLE>
{{- end}}
</XDFFORMAT>
`))

// Is3D reports whether the table carries a real y axis.
func (d Definition) Is3D() bool {
	return d.Kind == models.Map3D
}

// Rows is the data block row count: the y length for 3D maps, 1 for 2D.
func (d Definition) Rows() int {
	if d.Kind == models.Map3D {
		return d.YLen
	}
	return 1
}

// WriteDocument renders the full XDF document to w. Zero definitions
// still produce a complete, loadable document.
func WriteDocument(w io.Writer, imageSize int, defs []Definition, generated time.Time) error {
	doc := document{
		Generated: generated.Format("2006-01-02 15:04:05"),
		ImageSize: imageSize,
		Tables:    make([]table, 0, len(defs)),
	}
	for i, d := range defs {
		doc.Tables = append(doc.Tables, table{Definition: d, UniqueID: i + 1})
	}
	return xdfTemplate.Execute(w, doc)
}

// WriteFile renders the document to path encoded as UTF-16 little-endian
// with a byte order mark, which TunerPro expects.
func WriteFile(path string, imageSize int, defs []Definition, generated time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	w := transform.NewWriter(f, enc)

	if err := WriteDocument(w, imageSize, defs, generated); err != nil {
		_ = w.Close()
		_ = f.Close()
		return fmt.Errorf("failed to render XDF document: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode XDF document: %w", err)
	}
	return f.Close()
}
