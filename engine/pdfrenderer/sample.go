package pdfrenderer

import (
	"bytes"
	"fmt"
)

// SamplePDF writes a minimal valid PDF with the given number of pages. Each page is
// width x height points and carries a filled square and its page number as text, so
// every page renders to a distinct image. Used by the renderer self check.
func SamplePDF(pages int, width, height float64) []byte {
	if pages < 1 {
		pages = 1
	}

	var buf bytes.Buffer
	// Objects: 1 catalog, 2 page tree, 3 font, then a page and a content stream per page
	offsets := make([]int, 0, 3+2*pages)
	startObj := func() {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", len(offsets))
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	startObj()
	buf.WriteString("<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	startObj()
	buf.WriteString("<< /Type /Pages /Kids [")
	for i := 0; i < pages; i++ {
		fmt.Fprintf(&buf, " %d 0 R", 4+2*i)
	}
	fmt.Fprintf(&buf, " ] /Count %d >>\nendobj\n", pages)

	startObj()
	buf.WriteString("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	side := min(width, height) / 4
	for i := 0; i < pages; i++ {
		startObj()
		fmt.Fprintf(&buf, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			width, height, 5+2*i)

		content := fmt.Sprintf("0 0 0 rg %g %g %g %g re f\nBT /F1 %g Tf %g %g Td (%d) Tj ET\n",
			side, side, side, side, side, side, height-2*side, i+1)
		startObj()
		fmt.Fprintf(&buf, "<< /Length %d >>\nstream\n%sendstream\nendobj\n", len(content), content)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefOffset)

	return buf.Bytes()
}
