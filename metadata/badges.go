package metadata

const badgeBaseURL = "https://static-cdn.jtvnw.net/badges/v1/"

// Badge is a renderable chat badge.
type Badge struct {
	SetID string
	URL   string
}

// badgePriority lists the badges rendered next to a name, most important first.
var badgePriority = []Badge{
	{"broadcaster", badgeBaseURL + "5527c58c-fb7d-422d-b71b-f309dcb85cc1/2"},
	{"admin", badgeBaseURL + "9ef7e029-4cdf-4d4d-a0d5-e2b3fb2583fe/2"},
	{"staff", badgeBaseURL + "d97c37bd-a6f5-4c38-8f57-4e4bef88af34/2"},
	{"global_mod", badgeBaseURL + "9384c43e-4ce7-4e94-b2a1-b93656896eba/2"},
	{"moderator", badgeBaseURL + "3267646d-33f0-4b17-b3df-f923a41db1d0/2"},
}

// SelectBadge picks the single highest priority badge among setIDs.
func SelectBadge(setIDs []string) (Badge, bool) {
	if len(setIDs) == 0 {
		return Badge{}, false
	}
	present := make(map[string]bool, len(setIDs))
	for _, id := range setIDs {
		present[id] = true
	}
	for _, b := range badgePriority {
		if present[b.SetID] {
			return b, true
		}
	}
	return Badge{}, false
}
