package report

import (
	"fmt"
	"strings"
)

// Section headings shared by the page and the text report.
const (
	HeadingReport      = "分析报告"
	HeadingConfidence  = "置信度"
	HeadingSummary     = "取证分析摘要"
	HeadingFlaws       = "检测到的物理异常"
	HeadingRemediation = "针对瑕疵的AI修复提示词"
	HeadingFileInfo    = "文件信息"
	LabelFormat        = "格式"
	LabelSize          = "大小"
)

// FileInfo describes the analyzed file for display.
type FileInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size string `json:"size"`
}

// DescribeFile builds the file info panel values.
func DescribeFile(name, mimeType string, size int64) FileInfo {
	return FileInfo{Name: name, Kind: FormatKind(mimeType), Size: FormatSize(size)}
}

// Text renders a plain-text report. file may be nil.
func Text(rep *Report, file *FileInfo) string {
	if rep == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", HeadingReport)
	if file != nil {
		fmt.Fprintf(&b, "%s: %s  %s: %s  %s: %s\n", HeadingFileInfo, file.Name, LabelFormat, file.Kind, LabelSize, file.Size)
	}
	fmt.Fprintf(&b, "%s\n", rep.VerdictTitle)
	fmt.Fprintf(&b, "%s: %s\n", HeadingConfidence, rep.ScoreLabel)

	fmt.Fprintf(&b, "\n%s\n%s\n", HeadingSummary, rep.Reasoning)

	if rep.HasFlaws() {
		fmt.Fprintf(&b, "\n%s\n", HeadingFlaws)
		for i, flaw := range rep.Flaws {
			fmt.Fprintf(&b, "%d. %s\n", i+1, flaw)
		}
	}
	if rep.HasRemediation() {
		fmt.Fprintf(&b, "\n%s\n%s\n", HeadingRemediation, rep.RemediationPrompt)
	}
	return b.String()
}
