package format

import (
    "bufio"
    "io"
    "regexp"
    "strings"

    "github.com/jung-kurt/gofpdf"

    "github.com/hyperifyio/tabscribe/internal/markdown"
)

var pdfLinkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`) // [text](url)

// writeSimplePDF renders a minimal PDF from Markdown text, preserving paragraphs and
// turning Markdown links [text](url) into clickable PDF links. This does not
// perform full Markdown layout.
func writeSimplePDF(md string, title string, w io.Writer) error {
    pdf := gofpdf.New("P", "mm", "A4", "")
    tr := pdf.UnicodeTranslatorFromDescriptor("")
    if title != "" {
        pdf.SetTitle(title, true)
    }
    pdf.SetFont("Helvetica", "", 11)
    pdf.AddPage()

    // Render line by line to avoid huge paragraphs
    scanner := bufio.NewScanner(strings.NewReader(md))
    scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
    for scanner.Scan() {
        s := strings.TrimSpace(scanner.Text())
        if s == "" {
            pdf.Ln(5)
            continue
        }
        if strings.HasPrefix(s, "#") {
            i := 0
            for i < len(s) && s[i] == '#' { i++ }
            text := markdown.ToPlain(strings.TrimSpace(s[i:]))
            if text == "" { continue }
            size := 14.0
            if i >= 2 { size = 12.0 }
            pdf.SetFont("Helvetica", "B", size)
            pdf.CellFormat(0, 8, tr(text), "", 1, "L", false, 0, "")
            pdf.SetFont("Helvetica", "", 11)
            continue
        }
        parts := pdfLinkRe.FindAllStringSubmatchIndex(s, -1)
        if len(parts) == 0 {
            pdf.MultiCell(0, 5, tr(markdown.ToPlain(s)), "", "L", false)
            continue
        }
        pos := 0
        for _, m := range parts {
            // m: [fullStart, fullEnd, textStart, textEnd, urlStart, urlEnd]
            start := m[0]
            image := start > 0 && s[start-1] == '!'
            if image {
                start--
            }
            if start > pos {
                pdf.Write(5, tr(markdown.ToPlain(s[pos:start])))
            }
            text := tr(markdown.ToPlain(s[m[2]:m[3]]))
            url := s[m[4]:m[5]]
            // Images and intra-doc anchors render as plain text
            if image || strings.HasPrefix(url, "#") {
                pdf.Write(5, text)
            } else {
                pdf.WriteLinkString(5, text, url)
            }
            pos = m[1]
        }
        if pos < len(s) {
            pdf.Write(5, tr(markdown.ToPlain(s[pos:])))
        }
        pdf.Ln(6)
    }
    if err := scanner.Err(); err != nil {
        return err
    }
    return pdf.Output(w)
}
