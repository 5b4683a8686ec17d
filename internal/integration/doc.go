// Package integration defines the boundary between jobs and vendor clients.
//
// An integration [Record] names a [Kind]; a [Registry] maps each kind to a
// [Factory] and to the capabilities its clients provide. Jobs ask for a
// capability interface such as [DownloadQueueProvider] through [CreateAs],
// so a kind/capability mismatch surfaces as [ErrUnsupportedCapability]
// instead of a failed type assertion deep inside a job.
//
// Secrets are decrypted inside [Registry.Create] right before the factory
// runs and are not kept by the registry.
package integration
