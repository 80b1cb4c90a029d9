package consent

import "github.com/parishops/backend/internal/legal"

// Resolve computes the consent status for one user against the current
// document of one type. It is a total function: absence of data yields
// HasConsent=false, never an error.
//
// The authoritative record is the latest-by-recorded_at row with an
// affirmative action; non-affirmative rows (declined and friends) are skipped
// entirely, id and insertion order carry no meaning. On equal timestamps the
// later-scanned row wins, which keeps duplicate grants from concurrent
// writers harmless.
//
// HasConsent is strict version equality against the current document, not
// >=. A record pointing past the registry's current version (a state that
// should not normally occur) therefore reads as outdated rather than current.
func Resolve(records []Record, document legal.Document) Status {
	status := Status{
		DocumentType:   document.DocumentType,
		CurrentVersion: document.Version,
	}

	var latest *Record
	for index := range records {
		record := records[index]
		if record.ConsentType != document.DocumentType {
			continue
		}
		if !record.Action.Affirmative() {
			continue
		}
		if latest == nil || record.RecordedAtSeconds >= latest.RecordedAtSeconds {
			latest = &records[index]
		}
	}

	if latest == nil {
		return status
	}

	consentedVersion := latest.ConsentedVersion()
	consentedAt := latest.RecordedAtSeconds

	status.ConsentedVersion = &consentedVersion
	status.ConsentedAtSeconds = &consentedAt
	status.HasConsent = consentedVersion == document.Version
	return status
}
