package mapwatch

import (
	"context"
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"

	"github.com/arpentry/poiportal/htmlscan"
)

// SiteReport is a diagnostic capture for selector authoring: when an
// enabled site yields no map instance, the page content and the ranked
// container candidates tell a human where the probe should look.
type SiteReport struct {
	SessionID  string               `json:"session_id"`
	Domain     string               `json:"domain"`
	PageURL    string               `json:"page_url"`
	Instances  int                  `json:"instances"`
	Candidates []htmlscan.Candidate `json:"candidates,omitempty"`
	Markdown   string               `json:"markdown,omitempty"`
	Timestamp  int64                `json:"timestamp"`
}

// maxReportMarkdown caps the readable page capture; listing pages run
// to megabytes of HTML and the report is for humans.
const maxReportMarkdown = 64 << 10

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// SiteReport captures a diagnostic report for one session's page.
func (w *Watcher) SiteReport(ctx context.Context, sessionID string) (*SiteReport, error) {
	sess, ok := w.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("mapwatch: unknown session %q", sessionID)
	}
	if sess.tab == nil {
		return nil, fmt.Errorf("mapwatch: session %q has no tab", sessionID)
	}

	html, err := sess.tab.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("mapwatch: capture page: %w", err)
	}
	return buildSiteReport(sess, html), nil
}

func buildSiteReport(sess *Session, html []byte) *SiteReport {
	rep := &SiteReport{
		SessionID: sess.ID,
		Domain:    sess.Domain,
		PageURL:   sess.PageURL,
		Instances: sess.Registry().Len(),
		Timestamp: sess.clock().UnixMilli(),
	}

	if cands, err := htmlscan.Scan(html, htmlscan.Options{}); err == nil {
		rep.Candidates = cands
	}

	md, err := mdConverter.ConvertString(string(html), converter.WithDomain(sess.PageURL))
	if err != nil {
		sess.logger.Debug("mapwatch: report conversion failed",
			"session", sess.ID, "error", err)
		return rep
	}
	if len(md) > maxReportMarkdown {
		md = md[:maxReportMarkdown]
	}
	rep.Markdown = md
	return rep
}
