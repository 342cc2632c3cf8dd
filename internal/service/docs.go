package service

import (
	"context"
	"strings"

	"github.com/mintair/mintair-cloud/internal/apperror"
)

// DocPage is one static documentation article.
type DocPage struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Body    string `json:"body,omitempty"`
}

// DocsService serves the built-in documentation. Pages live in memory; they
// change with releases, not at runtime.
type DocsService struct {
	pages []DocPage
	index map[string]int
}

func NewDocsService() *DocsService {
	pages := []DocPage{
		{
			Slug:    "getting-started",
			Title:   "Getting started",
			Summary: "Create an account, add credits, and deploy your first GPU instance.",
			Body: "Every new account starts with free credits. Browse the marketplace, " +
				"pick a GPU configuration, and deploy. The first hour is charged up front; " +
				"your instance is ready a couple of minutes after deployment.",
		},
		{
			Slug:    "instance-lifecycle",
			Title:   "Instance lifecycle",
			Summary: "What the PROVISIONING, RUNNING, STOPPED, and TERMINATED states mean.",
			Body: "Instances provision for about two minutes before entering RUNNING. " +
				"Running instances can be stopped, restarted, or terminated. Termination is " +
				"permanent and frees the capacity slot. A failed provisioning shows the " +
				"failure reason on the instance detail page.",
		},
		{
			Slug:    "billing-and-credits",
			Title:   "Billing and credits",
			Summary: "How the credit balance, top-ups, and the usage ledger work.",
			Body: "All charges draw from your credit balance. Every balance change is " +
				"recorded in the billing ledger with the balance after the change. Top up " +
				"via checkout; credits appear as soon as the payment settles.",
		},
		{
			Slug:    "ssh-keys",
			Title:   "SSH keys",
			Summary: "Supported key types and how keys attach to instances.",
			Body: "Upload ssh-rsa, ssh-ed25519, or ecdsa-sha2-nistp keys in OpenSSH " +
				"format. Choose a key at deploy time; deleting a key later does not affect " +
				"instances already using it.",
		},
		{
			Slug:    "referrals",
			Title:   "Referral program",
			Summary: "Earn credits when someone you invited deploys their first instance.",
			Body: "Share your referral code. When a new user signs up with it and deploys " +
				"their first instance, the reward lands in your balance automatically.",
		},
	}
	index := make(map[string]int, len(pages))
	for i, p := range pages {
		index[p.Slug] = i
	}
	return &DocsService{pages: pages, index: index}
}

// List returns all pages without bodies.
func (s *DocsService) List(ctx context.Context) []DocPage {
	out := make([]DocPage, len(s.pages))
	for i, p := range s.pages {
		p.Body = ""
		out[i] = p
	}
	return out
}

// Search returns pages whose title, summary, or body contains the query,
// case-insensitively, without bodies. An empty query matches everything.
func (s *DocsService) Search(ctx context.Context, query string) []DocPage {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List(ctx)
	}
	var out []DocPage
	for _, p := range s.pages {
		haystack := strings.ToLower(p.Title + " " + p.Summary + " " + p.Body)
		if strings.Contains(haystack, query) {
			p.Body = ""
			out = append(out, p)
		}
	}
	return out
}

// Get returns one page with its body.
func (s *DocsService) Get(ctx context.Context, slug string) (*DocPage, error) {
	i, ok := s.index[slug]
	if !ok {
		return nil, apperror.NotFound("Documentation page")
	}
	page := s.pages[i]
	return &page, nil
}
