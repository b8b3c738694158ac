package handlers

// EventNotifier is implemented by the push channel hub. Handlers call it
// once their repository transaction has committed, never before, so a
// failed mutation never produces an event. A nil
// EventNotifier is valid: handlers skip the call silently, which lets
// CRUD handlers be unit-tested without standing up a hub.
type EventNotifier interface {
	ProvidersUpdated(action, providerID string, total, enabled int)
	ModelsUpdated(action, modelID string, total int)
	CredentialsUpdated(action string, valid bool, expiresAt *int64, hasCredentials bool)
}

func notifyProviders(n EventNotifier, action, providerID string, total, enabled int) {
	if n != nil {
		n.ProvidersUpdated(action, providerID, total, enabled)
	}
}

func notifyModels(n EventNotifier, action, modelID string, total int) {
	if n != nil {
		n.ModelsUpdated(action, modelID, total)
	}
}

func notifyCredentials(n EventNotifier, action string, valid bool, expiresAt *int64, hasCredentials bool) {
	if n != nil {
		n.CredentialsUpdated(action, valid, expiresAt, hasCredentials)
	}
}
