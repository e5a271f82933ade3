package flows

// Deps groups flow dependency sets. The identity service builds this once and
// delegates endpoint handling to the matching flow.
type Deps struct {
	Recovery RecoveryDeps
}
