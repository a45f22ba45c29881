package handlers

import (
	"net/http"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/exchangelink/exchangelink/internal/exchange"
)

// AppName is reported by the version endpoint.
const AppName = "exchangelink"

// Build metadata, injected from main via SetVersionInfo
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

// SetVersionInfo records build metadata for /version and the health envelope.
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// VersionResponse is the /version payload.
type VersionResponse struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Commit    string   `json:"git_commit"`
	BuildDate string   `json:"build_date"`
	Go        string   `json:"go_version"`
	Platform  string   `json:"platform"`
	Gofulmen  string   `json:"gofulmen"`
	Crucible  string   `json:"crucible"`
	Exchanges []string `json:"exchanges"`
}

// NewVersionHandler reports build metadata and the exchanges registry serves.
func NewVersionHandler(registry *exchange.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps := crucible.GetVersion()
		exchanges := registry.Names()
		if exchanges == nil {
			exchanges = []string{}
		}
		writeJSON(w, http.StatusOK, VersionResponse{
			Name:      AppName,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			Go:        runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			Gofulmen:  deps.Gofulmen,
			Crucible:  deps.Crucible,
			Exchanges: exchanges,
		})
	}
}
