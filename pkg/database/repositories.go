// Repositories is a convenience wrapper bundling every repository behind a
// single point of access, constructed once at startup and threaded through
// the app context.

package database

// Repositories holds all repository instances.
type Repositories struct {
	Leads        *LeadRepository
	Epochs       *EpochRepository
	Evidence     *EvidenceRepository
	Transparency *TransparencyRepository
	Checkpoints  *CheckpointRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Leads:        NewLeadRepository(client),
		Epochs:       NewEpochRepository(client),
		Evidence:     NewEvidenceRepository(client),
		Transparency: NewTransparencyRepository(client),
		Checkpoints:  NewCheckpointRepository(client),
	}
}
