// Package registry tracks the active client for each configured
// tenant. The reconciler resolves tenants through it on every cycle,
// so clients can be registered and removed while the loop is running.
package registry

import (
	"sync"

	lnstrike "github.com/Marfusios/strike-lightning-bridge/lnclient/strike"
)

type Registry struct {
	clientsMtx sync.RWMutex
	clients    map[string]*lnstrike.StrikeClient
}

func NewRegistry() *Registry {
	return &Registry{
		clients: map[string]*lnstrike.StrikeClient{},
	}
}

func (r *Registry) Set(client *lnstrike.StrikeClient) {
	r.clientsMtx.Lock()
	defer r.clientsMtx.Unlock()
	r.clients[client.TenantId()] = client
}

func (r *Registry) Get(tenantId string) (*lnstrike.StrikeClient, bool) {
	r.clientsMtx.RLock()
	defer r.clientsMtx.RUnlock()
	client, ok := r.clients[tenantId]
	return client, ok
}

func (r *Registry) Remove(tenantId string) {
	r.clientsMtx.Lock()
	defer r.clientsMtx.Unlock()
	delete(r.clients, tenantId)
}

func (r *Registry) TenantIds() []string {
	r.clientsMtx.RLock()
	defer r.clientsMtx.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
