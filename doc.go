// Package html2pdf prints untrusted HTML to PDF with a pool of headless
// Chromium browsers.
//
// # Quick Start
//
// Start a pool, build a renderer, render, and close the pool when done:
//
//	pool, err := html2pdf.NewBrowserPool(ctx, 3, html2pdf.RodLauncher(html2pdf.DefaultLaunchConfig()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	r := html2pdf.NewRenderer(pool,
//	    html2pdf.WithAdmitter(html2pdf.NewRateLimiter(time.Minute, 10)),
//	)
//	res, err := r.Render(ctx, html2pdf.Request{ClientID: ip, HTML: "<h1>Hi</h1>"})
//	if err != nil {
//	    pub := html2pdf.Project(err, requestID) // safe to show to callers
//	    ...
//	}
//	os.WriteFile("out.pdf", res.PDF, 0o644)
//
// # Rendering Pipeline
//
// Every request goes through the same stages:
//
//  1. Admission by the per-client sliding-window RateLimiter
//  2. Textual sanitizing (Sanitizer)
//  3. Round-robin acquisition of a browser from the BrowserPool
//  4. A new incognito rendering context on that browser
//  5. The sandbox: page CSP bypass, request allow-list, capability
//     removal, scripting disabled, fixed viewport
//  6. Loading the document, raced against an explicit timer
//  7. PDF export
//  8. Closing the rendering context, on every path
//
// # Security Model
//
// The request allow-list is the security boundary. The document itself is
// served by intercepting the top-level navigation and answering it with a
// Content-Security-Policy header; sub-resources are allowed only for the
// image, stylesheet, font and media categories, everything else is aborted.
// Sanitizing is a best-effort pre-filter layered underneath.
//
// # Errors
//
// Callers can only tell "rate limited" from "failed". A failed render is a
// *RenderError that keeps the stage and internal cause for logs; Project
// returns the public view of any error.
//
// # Browser Requirements
//
// PDF generation requires Chrome/Chromium. The go-rod library automatically
// downloads a managed Chromium instance on first run (~/.cache/rod/browser/).
// Use LaunchConfig.Bin to point at a system browser.
package html2pdf
