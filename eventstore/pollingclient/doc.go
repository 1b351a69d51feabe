// Package pollingclient observes the global commit feed of an eventstore.Persistence.
//
// A CommitObserver polls ReadFrom (or ReadBucketFrom) from its checkpoint at a fixed interval
// and publishes every new commit, in checkpoint order, to its subscribers:
//
//	client, _ := pollingclient.NewPollingClient(persistence, pollingclient.WithInterval(time.Second))
//	observer := client.ObserveFrom(lastProcessedCheckpoint)
//	defer observer.Close()
//
//	sub := observer.Subscribe(16)
//	if err := observer.Start(ctx); err != nil {
//		return err
//	}
//
//	for commit := range sub.Commits() {
//		project(commit)
//	}
//
// Reads use eventual consistency, so a replica-aware backend may serve them from a replica.
// Read failures are logged and retried at the next interval.
package pollingclient
