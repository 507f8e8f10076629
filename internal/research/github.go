package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"
)

const (
	maxRepos     = 5
	maxOrgs      = 3
	maxIdeaWords = 6
)

// GitHubTool looks up the competitor's public GitHub footprint
type GitHubTool struct {
	client *github.Client
}

// NewGitHubTool creates the tool. token may be empty for anonymous access.
func NewGitHubTool(token string) *GitHubTool {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubTool{client: client}
}

// newGitHubToolWithClient is used by tests to point at a local server
func newGitHubToolWithClient(client *github.Client) *GitHubTool {
	return &GitHubTool{client: client}
}

func (g *GitHubTool) Name() string { return "github" }

func (g *GitHubTool) Input(t Target) map[string]any {
	q := searchTerms(t)
	if q == "" {
		return nil
	}
	return map[string]any{"query": q}
}

// searchTerms keeps discovery queries short so the search API returns results
func searchTerms(t Target) string {
	if t.Competitor != "" {
		return strings.TrimSpace(t.Competitor)
	}
	words := strings.Fields(t.Idea)
	if len(words) > maxIdeaWords {
		words = words[:maxIdeaWords]
	}
	return strings.Join(words, " ")
}

func (g *GitHubTool) Run(ctx context.Context, t Target) (string, error) {
	q := searchTerms(t)
	var sb strings.Builder

	if t.Competitor != "" {
		orgs, _, err := g.client.Search.Users(ctx, q+" type:org", &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: maxOrgs},
		})
		if err != nil {
			return "", fmt.Errorf("search organisations: %w", err)
		}
		if len(orgs.Users) > 0 {
			sb.WriteString("Organisations:\n")
			for _, u := range orgs.Users {
				fmt.Fprintf(&sb, "- %s %s\n", u.GetLogin(), u.GetHTMLURL())
			}
		}
	}

	repos, _, err := g.client.Search.Repositories(ctx, q, &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{PerPage: maxRepos},
	})
	if err != nil {
		return "", fmt.Errorf("search repositories: %w", err)
	}
	if len(repos.Repositories) > 0 {
		sb.WriteString("Top repositories:\n")
		for _, r := range repos.Repositories {
			fmt.Fprintf(&sb, "- %s (%d stars", r.GetFullName(), r.GetStargazersCount())
			if lang := r.GetLanguage(); lang != "" {
				fmt.Fprintf(&sb, ", %s", lang)
			}
			sb.WriteString(")")
			if desc := r.GetDescription(); desc != "" {
				fmt.Fprintf(&sb, ": %s", collapse(desc))
			}
			sb.WriteString("\n")
		}
	}

	if sb.Len() == 0 {
		return fmt.Sprintf("No public GitHub activity found for %q.", q), nil
	}
	return strings.TrimSpace(sb.String()), nil
}
