// Package pdf 用无头 Chromium 把作品集 HTML 打印为 A4 PDF。
package pdf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// A4 尺寸与页边距，单位英寸。
const (
	a4Width  = 8.27
	a4Height = 11.69
	margin   = 0.4
)

const footerTemplate = `<div style="width:100%;font-size:8px;color:#999;text-align:center;">` +
	`<span class="pageNumber"></span> / <span class="totalPages"></span></div>`

// Renderer 每次渲染启动独立的浏览器进程，渲染结束即回收。
type Renderer struct {
	timeout time.Duration
}

// NewRenderer 创建渲染器，timeout 作用于建页到导出的全过程。
func NewRenderer(timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{timeout: timeout}
}

// Render 渲染 HTML 并返回 PDF 字节。
func (r *Renderer) Render(ctx context.Context, htmlContent string) ([]byte, error) {
	launch := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(r.timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(r.timeout)
	if err := page.SetDocumentContent(htmlContent); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	reader, err := page.PDF(printOptions())
	if err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}
	return data, nil
}

func printOptions() *proto.PagePrintToPDF {
	return &proto.PagePrintToPDF{
		PrintBackground:     true,
		PaperWidth:          inches(a4Width),
		PaperHeight:         inches(a4Height),
		MarginTop:           inches(margin),
		MarginBottom:        inches(margin + 0.2),
		MarginLeft:          inches(margin),
		MarginRight:         inches(margin),
		DisplayHeaderFooter: true,
		HeaderTemplate:      "<div></div>",
		FooterTemplate:      footerTemplate,
	}
}

func inches(v float64) *float64 { return &v }
