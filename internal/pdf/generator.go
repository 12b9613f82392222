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

const (
	defaultPageTimeout = 30 * time.Second
	// A4，单位英寸
	a4WidthInch  = 8.27
	a4HeightInch = 11.69
)

// Renderer 使用无头 Chromium 把 HTML 渲染为 PDF。每次调用启动独立的浏览器进程。
type Renderer struct {
	// BinPath 为空时自动查找本机 Chromium。
	BinPath string
	Timeout time.Duration
}

// NewRenderer 构造 Renderer。
func NewRenderer(binPath string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	return &Renderer{BinPath: binPath, Timeout: timeout}
}

// RenderPDF 实现 worker.ReportRenderer。
func (r *Renderer) RenderPDF(ctx context.Context, htmlContent string) ([]byte, error) {
	return GeneratePDFFromHTML(ctx, htmlContent, r.BinPath, r.Timeout)
}

// GeneratePDFFromHTML 使用 go-rod 在无头浏览器中渲染 HTML 并返回 A4 PDF 字节。
func GeneratePDFFromHTML(ctx context.Context, htmlContent, binPath string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}

	launch := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)

	if binPath != "" {
		launch = launch.Bin(binPath)
	} else if path, ok := launcher.LookPath(); ok {
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

	page, err := browser.Timeout(timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(timeout)
	if err := page.SetDocumentContent(htmlContent); err != nil {
		return nil, fmt.Errorf("set document content: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	width, height := a4WidthInch, a4HeightInch
	reader, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		PaperWidth:      &width,
		PaperHeight:     &height,
	})
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
