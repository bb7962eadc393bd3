package vcs

import (
	"context"
	"sync"
)

// lockPlan names the scopes a mutation serializes on. Local-chain mutations
// hold the project shared plus their author's chain exclusively; shared-chain
// mutations (merge, promote) hold the project exclusively and so exclude
// every local mutation of that project.
type lockPlan struct {
	projectID string
	authorID  string
	exclusive bool
}

func localPlan(projectID, authorID string) lockPlan {
	return lockPlan{projectID: projectID, authorID: authorID}
}

// readPlan holds the project shared only. It keeps merges and promotes out
// while a read result is persisted.
func readPlan(projectID string) lockPlan {
	return lockPlan{projectID: projectID}
}

func sharedPlan(projectID string) lockPlan {
	return lockPlan{projectID: projectID, exclusive: true}
}

func projectLockKey(projectID string) string {
	return "folio:project:" + projectID
}

func localLockKey(projectID, authorID string) string {
	return "folio:local:" + projectID + ":" + authorID
}

func bootstrapLockKey(projectID string) string {
	return "folio:bootstrap:" + projectID
}

// apply takes the plan's locks inside the unit of work, so that writers in
// other processes sharing the database serialize the same way.
func (p lockPlan) apply(ctx context.Context, repo Repository) error {
	if err := repo.AcquireLock(ctx, projectLockKey(p.projectID), !p.exclusive); err != nil {
		return err
	}
	if p.authorID != "" {
		if err := repo.AcquireLock(ctx, localLockKey(p.projectID, p.authorID), false); err != nil {
			return err
		}
	}
	return nil
}

// scopeLocks serializes mutations inside this process.
type scopeLocks struct {
	mu       sync.Mutex
	projects map[string]*sync.RWMutex
	named    map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{
		projects: make(map[string]*sync.RWMutex),
		named:    make(map[string]*sync.Mutex),
	}
}

func (l *scopeLocks) project(projectID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.projects[projectID]
	if ok {
		return lock
	}
	lock = &sync.RWMutex{}
	l.projects[projectID] = lock
	return lock
}

func (l *scopeLocks) mutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.named[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	l.named[key] = lock
	return lock
}

func (l *scopeLocks) acquire(plan lockPlan) func() {
	project := l.project(plan.projectID)
	if plan.exclusive {
		project.Lock()
		return project.Unlock
	}
	project.RLock()
	if plan.authorID == "" {
		return project.RUnlock
	}
	local := l.mutex(localLockKey(plan.projectID, plan.authorID))
	local.Lock()
	return func() {
		local.Unlock()
		project.RUnlock()
	}
}

// bootstrap serializes creation of a project's root commit. It is only taken
// while the project lock is already held shared.
func (l *scopeLocks) bootstrap(projectID string) func() {
	lock := l.mutex(bootstrapLockKey(projectID))
	lock.Lock()
	return lock.Unlock
}
