// Package packml implements the ISA-TR88 PackML state machine shared by the
// orchestrator's controller and by each station-side core.
package packml

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aausmartlab/btorchestrator/internal/aas"
	"github.com/aausmartlab/btorchestrator/internal/bt"
	"github.com/aausmartlab/btorchestrator/internal/bt/core"
	"github.com/aausmartlab/btorchestrator/internal/common/apperrors"
	"github.com/aausmartlab/btorchestrator/internal/common/logger"
	"github.com/aausmartlab/btorchestrator/internal/distributor"
	"github.com/aausmartlab/btorchestrator/internal/interfacecache"
	"github.com/aausmartlab/btorchestrator/internal/transport"
)

const tickInterval = 100 * time.Millisecond

// commandKind names one of the five external commands the controller
// accepts, used as the key into the pending-UUID slot map.
type commandKind string

const (
	cmdStart      commandKind = "start"
	cmdStop       commandKind = "stop"
	cmdSuspend    commandKind = "suspend"
	cmdUnsuspend  commandKind = "unsuspend"
	cmdReset      commandKind = "reset"
)

// commandVerb is the wire-topic verb (DATA/<Verb>) for each command kind.
var commandVerb = map[commandKind]string{
	cmdStart:     "Start",
	cmdStop:      "Stop",
	cmdSuspend:   "Suspend",
	cmdUnsuspend: "Unsuspend",
	cmdReset:     "Reset",
}

// commandRequest is the wire shape of an incoming Start/Stop/Suspend/
// Unsuspend/Reset command.
type commandRequest struct {
	Uuid    string `json:"Uuid"`
	Process string `json:"ProcessId,omitempty"`
}

// commandResponse is the wire shape of the acceptance/rejection reply
// published once a command has been actioned.
type commandResponse struct {
	Uuid  string `json:"Uuid"`
	State string `json:"State"`
}

// stateMessage is the retained payload published to DATA/State on every
// transition.
type stateMessage struct {
	State     string `json:"State"`
	TimeStamp string `json:"TimeStamp"`
}

// Controller owns one behavior-tree lifecycle: the PackML state, the
// currently-armed tree and its distributor, the interface cache, and the
// equipment map built during STARTING. Node instances are owned by the
// tree; the controller exclusively owns the tree handle, the MQTT client,
// the distributor, the AAS client, and the interface cache.
type Controller struct {
	clientID  string
	baseTopic string // "<uns>/<clientID>"

	transportClient transport.Transport
	aasClient       *aas.Client
	aasProvider     *aas.Provider
	cache           *interfacecache.Cache
	log             *logger.Logger

	stateMu sync.RWMutex
	state   State

	flags struct {
		start, stop, suspend, unsuspend, reset, shutdown, sigint atomic.Bool
	}

	pendingMu sync.Mutex
	pending   map[commandKind]string

	startMu        sync.Mutex
	startProcessID string

	aasIDMu      sync.Mutex
	processAASID string

	treeMu      sync.Mutex
	tree        *core.Tree
	distributor *distributor.Distributor
	registry    *core.Registry
	equipment   map[string]string
}

// New returns a Controller bound to t for transport, client for AAS access,
// and cache for its pre-fetched interfaces, publishing under
// "<unsTopic>/<clientID>".
func New(clientID, unsTopic string, t transport.Transport, client *aas.Client, cache *interfacecache.Cache, log *logger.Logger) *Controller {
	return &Controller{
		clientID:        clientID,
		baseTopic:       unsTopic + "/" + clientID,
		transportClient: t,
		aasClient:       client,
		aasProvider:     aas.NewProvider(client),
		cache:           cache,
		log:             log,
		pending:         make(map[commandKind]string),
		equipment:       make(map[string]string),
	}
}

// CurrentState returns the controller's current PackML state.
func (c *Controller) CurrentState() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.publishState(s)
	c.log.Info("state transition", zap.String("state", s.String()))
}

func (c *Controller) publishState(s State) {
	msg := stateMessage{State: s.String(), TimeStamp: time.Now().UTC().Format(time.RFC3339Nano)}
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal state message failed", zap.Error(err))
		return
	}
	topic := c.baseTopic + "/DATA/State"
	if err := c.transportClient.Publish(context.Background(), topic, 2, true, payload); err != nil {
		c.log.Error("publish state failed", zap.Error(err), zap.String("topic", topic))
	}
}

// Arm subscribes the controller's own command topics — Start/Stop/Suspend/
// Unsuspend/Reset — which exist independently of any tree lifecycle and
// remain active for the controller's entire run.
func (c *Controller) Arm(ctx context.Context) error {
	for kind := range commandVerb {
		k := kind
		topic := c.baseTopic + "/CMD/" + commandVerb[k]
		if _, err := c.transportClient.Subscribe(topic, 2, func(msg transport.Message) {
			c.onCommand(k, msg)
		}); err != nil {
			return apperrors.TransportError("packml.Controller.Arm", err)
		}
	}
	c.publishState(c.CurrentState())
	return nil
}

func (c *Controller) onCommand(kind commandKind, msg transport.Message) {
	var req commandRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.log.Warn("malformed command payload", zap.String("command", string(kind)), zap.Error(err))
		return
	}

	state := c.CurrentState()
	if !commandAllowed(kind, state) {
		c.log.Info("command rejected", zap.String("command", string(kind)), zap.String("state", state.String()))
		c.publishCommandResponse(kind, req.Uuid, "FAILURE")
		return
	}

	c.pendingMu.Lock()
	c.pending[kind] = req.Uuid
	c.pendingMu.Unlock()

	if kind == cmdStart {
		c.startMu.Lock()
		c.startProcessID = req.Process
		c.startMu.Unlock()
	}

	c.setFlag(kind)
}

func commandAllowed(kind commandKind, state State) bool {
	switch kind {
	case cmdStart:
		return state == Idle
	case cmdStop:
		return true
	case cmdSuspend:
		return state == Execute
	case cmdUnsuspend:
		return state == Suspended
	case cmdReset:
		return state == Stopped || state == Complete || state == Aborted
	default:
		return false
	}
}

func (c *Controller) setFlag(kind commandKind) {
	switch kind {
	case cmdStart:
		c.flags.start.Store(true)
	case cmdStop:
		c.flags.stop.Store(true)
	case cmdSuspend:
		c.flags.suspend.Store(true)
	case cmdUnsuspend:
		c.flags.unsuspend.Store(true)
	case cmdReset:
		c.flags.reset.Store(true)
	}
}

// RequestShutdown asks the run loop to exit after the current tick: an armed
// tree is halted and STOPPED is published before Run returns. Safe to call
// from a signal handler.
func (c *Controller) RequestShutdown() {
	c.flags.shutdown.Store(true)
}

// RequestSigint marks the shutdown as signal-triggered in addition to
// requesting it, so callers (main's exit-code logic) can tell a SIGINT
// shutdown apart from a programmatic one.
func (c *Controller) RequestSigint() {
	c.flags.sigint.Store(true)
	c.flags.shutdown.Store(true)
}

// SigintReceived reports whether the pending/completed shutdown was
// triggered by a SIGINT rather than a programmatic request.
func (c *Controller) SigintReceived() bool {
	return c.flags.sigint.Load()
}

func (c *Controller) takePending(kind commandKind) string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	uuid := c.pending[kind]
	delete(c.pending, kind)
	return uuid
}

func (c *Controller) publishCommandResponse(kind commandKind, uuid, state string) {
	resp := commandResponse{Uuid: uuid, State: state}
	payload, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("marshal command response failed", zap.Error(err))
		return
	}
	topic := c.baseTopic + "/DATA/" + commandVerb[kind]
	if err := c.transportClient.Publish(context.Background(), topic, 2, false, payload); err != nil {
		c.log.Error("publish command response failed", zap.Error(err), zap.String("topic", topic))
	}
}

// Run ticks the controller's state machine until ctx is cancelled or a
// shutdown has been requested, in which case it halts any armed tree and
// transitions to STOPPED after the current tick.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		c.step(ctx)

		if c.flags.shutdown.Load() {
			if HasTree(c.CurrentState()) {
				c.treeMu.Lock()
				tree := c.tree
				c.treeMu.Unlock()
				if tree != nil {
					tree.Halt()
				}
				c.setState(Stopped)
			}
			return nil
		}
	}
}

func (c *Controller) step(ctx context.Context) {
	state := c.CurrentState()

	if c.flags.stop.Load() && HasTree(state) {
		c.flags.stop.Store(false)
		c.handleStop()
		return
	}
	if c.flags.stop.Load() {
		// Stop with no active tree: nothing to halt, acknowledge immediately.
		c.flags.stop.Store(false)
		c.publishCommandResponse(cmdStop, c.takePending(cmdStop), "SUCCESS")
		return
	}

	switch state {
	case Idle:
		if c.flags.start.Load() {
			c.flags.start.Store(false)
			c.handleStart(ctx)
		}
	case Execute:
		if c.flags.suspend.Load() {
			c.flags.suspend.Store(false)
			c.handleSuspend()
			return
		}
		c.tickTree()
	case Suspended:
		if c.flags.unsuspend.Load() {
			c.flags.unsuspend.Store(false)
			c.handleUnsuspend()
		}
	case Stopped, Complete, Aborted:
		if c.flags.reset.Load() {
			c.flags.reset.Store(false)
			c.handleReset()
		}
	}
}

func (c *Controller) tickTree() {
	c.treeMu.Lock()
	tree := c.tree
	c.treeMu.Unlock()
	if tree == nil {
		return
	}

	switch tree.Tick() {
	case core.Success, core.Failure:
		c.setState(Complete)
	}
}

func (c *Controller) handleStop() {
	uuid := c.takePending(cmdStop)
	c.treeMu.Lock()
	tree := c.tree
	c.treeMu.Unlock()
	if tree != nil {
		tree.Halt()
	}
	c.setState(Stopped)
	c.publishCommandResponse(cmdStop, uuid, "SUCCESS")
}

func (c *Controller) handleSuspend() {
	uuid := c.takePending(cmdSuspend)
	c.treeMu.Lock()
	tree := c.tree
	c.treeMu.Unlock()
	if tree != nil {
		tree.Halt()
	}
	c.setState(Suspended)
	c.publishCommandResponse(cmdSuspend, uuid, "SUCCESS")
}

func (c *Controller) handleUnsuspend() {
	uuid := c.takePending(cmdUnsuspend)
	c.setState(Execute)
	c.publishCommandResponse(cmdUnsuspend, uuid, "SUCCESS")
}

// handleReset tears down the current tree and every resource it armed,
// per STARTING's mirror image: halt, unsubscribe, drop, recreate.
func (c *Controller) handleReset() {
	uuid := c.takePending(cmdReset)
	c.setState(Resetting)

	c.treeMu.Lock()
	tree := c.tree
	dist := c.distributor
	c.treeMu.Unlock()

	if tree != nil {
		tree.Halt()
	}
	if dist != nil {
		if err := dist.Unarm(); err != nil {
			c.log.Warn("distributor unarm failed", zap.Error(err))
		}
	}

	c.cache.Clear()
	c.aasIDMu.Lock()
	c.processAASID = ""
	c.aasIDMu.Unlock()

	c.treeMu.Lock()
	c.tree = nil
	c.distributor = nil
	c.registry = nil
	c.equipment = make(map[string]string)
	c.treeMu.Unlock()

	c.setState(Idle)
	c.publishCommandResponse(cmdReset, uuid, "SUCCESS")
}

// handleStart executes the seven-step STARTING procedure. A failure at any
// step transitions to ABORTED and publishes a FAILURE Start response;
// success transitions to EXECUTE with the tree armed and SUCCESS published.
func (c *Controller) handleStart(ctx context.Context) {
	uuid := c.takePending(cmdStart)
	c.startMu.Lock()
	processID := c.startProcessID
	c.startMu.Unlock()

	c.setState(Starting)
	c.aasIDMu.Lock()
	c.processAASID = processID
	c.aasIDMu.Unlock()

	if err := c.runStarting(ctx, processID); err != nil {
		c.log.Error("starting failed", zap.Error(err), zap.String("process_aas_id", processID))
		c.setState(Aborted)
		c.publishCommandResponse(cmdStart, uuid, "FAILURE")
		return
	}

	c.setState(Execute)
	c.publishCommandResponse(cmdStart, uuid, "SUCCESS")
}

func (c *Controller) runStarting(ctx context.Context, processID string) error {
	// Step 1+2: RequiredCapabilities -> equipment map, plus the product
	// reference under the reserved "product" key.
	capabilities, err := c.aasClient.FetchRequiredCapabilities(ctx, processID)
	if err != nil {
		return apperrors.TreeBuildError("packml.runStarting", err)
	}
	equipment := buildEquipmentFromCapabilities(capabilities)

	if productID, err := c.resolveProductReference(ctx, processID); err == nil {
		equipment["product"] = productID
	} else {
		c.log.Warn("product reference unresolved", zap.Error(err))
	}

	// Step 3: pre-fetch every asset's interfaces, bounded concurrency via
	// errgroup so a slow or unreachable asset can't serialize the whole run.
	if err := c.prefetchInterfaces(ctx, equipment); err != nil {
		return apperrors.DiscoveryHTTPError("packml.runStarting", err)
	}

	// Step 4: Policy submodel -> behavior-tree XML body.
	treeURL, err := c.aasClient.FetchPolicyBTURL(ctx, processID)
	if err != nil {
		return apperrors.TreeBuildError("packml.runStarting", err)
	}
	xmlBody, err := c.aasClient.FetchBody(ctx, treeURL)
	if err != nil {
		return apperrors.TreeBuildError("packml.runStarting", err)
	}

	// Step 5: fresh blackboard, registry, node dependencies, tree build.
	bb := core.NewBlackboard()
	for name, shellID := range equipment {
		bb.Set(name, shellID)
	}
	bb.Set("ProcessAASId", processID)

	dist := distributor.New(c.transportClient, c.log)
	registry := core.NewRegistry()
	deps := bt.Deps{
		Transport:   c.transportClient,
		Cache:       c.cache,
		AASClient:   c.aasClient,
		AASProvider: c.aasProvider,
		Distributor: dist,
		Log:         c.log,
	}
	bt.RegisterNodeTypes(registry, deps)

	tree, err := core.LoadXML(xmlBody, registry, bb, "")
	if err != nil {
		return apperrors.TreeBuildError("packml.runStarting", err)
	}

	// Step 6: prime every node that defers topic resolution and
	// distributor registration to its own first Tick. Arm is called
	// exactly once per tree lifecycle, before EXECUTE ever ticks the
	// tree, so a node that registered only on its first Tick would never
	// get subscribed — priming closes that gap.
	primeTree(tree)

	// Subscribe each asset's catch-all wildcard pattern alongside the
	// node-specific patterns just primed, so the tree wakes up on any
	// asset activity even if a node's own topic isn't resolvable yet.
	for _, pattern := range c.cache.WildcardPatterns() {
		dist.Register(pattern, 0, treeWakeupNode{bb: bb})
	}

	// Step 7: arm the distributor — every registered pattern (primed
	// node topics plus the wildcard catch-alls above) is subscribed,
	// delivering retained messages before the tree's first real tick.
	if err := dist.Arm(ctx); err != nil {
		return apperrors.TransportError("packml.runStarting", err)
	}

	c.treeMu.Lock()
	c.tree = tree
	c.distributor = dist
	c.registry = registry
	c.equipment = equipment
	c.treeMu.Unlock()

	return nil
}

// primeTree calls PrimeTopics on every node in tree that implements
// bt.Primable, forcing MQTT topic resolution and distributor
// registration to happen now instead of on first Tick.
func primeTree(tree *core.Tree) {
	for _, n := range tree.Nodes {
		if p, ok := n.(bt.Primable); ok {
			p.PrimeTopics()
		}
	}
}

// treeWakeupNode implements distributor.Node: it carries no per-message
// behavior of its own, just a prod to re-tick the tree on any message
// under an asset's wildcard pattern, whether or not a specific node ends
// up caring about that exact topic.
type treeWakeupNode struct {
	bb *core.Blackboard
}

func (w treeWakeupNode) ProcessMessage(_ string, _ []byte, _ bool) {
	w.bb.WakeUp()
}

func (c *Controller) resolveProductReference(ctx context.Context, processID string) (string, error) {
	info, err := c.aasClient.FetchProcessInformation(ctx, processID)
	if err != nil {
		return "", err
	}
	elements, _ := info["submodelElements"].([]any)
	refEl, ok := findByIdShort(elements, "ProductReference")
	if !ok {
		return "", fmt.Errorf("ProductReference not found in ProcessInformation")
	}
	shellID, ok := referenceShellID(refEl)
	if !ok {
		return "", fmt.Errorf("ProductReference does not resolve to a submodel path")
	}
	return shellID, nil
}

// prefetchInterfaces pre-fetches every asset's interface set into the
// cache with bounded concurrency, matching STARTING step 3's "individual
// asset failures are logged, the run proceeds if at least one succeeded"
// semantics: each asset's fetch runs as its own errgroup goroutine (capped
// at maxConcurrency in flight) so a slow AAS endpoint doesn't serialize
// discovery of the others, but a single asset's failure never cancels its
// siblings — only a zero-success run fails STARTING.
func (c *Controller) prefetchInterfaces(ctx context.Context, equipment map[string]string) error {
	if len(equipment) == 0 {
		return nil
	}

	const maxConcurrency = 8
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	var succeeded atomic.Int32
	for name, shellID := range equipment {
		name, shellID := name, shellID
		g.Go(func() error {
			if err := c.cache.PreFetchAll(gctx, map[string]string{name: shellID}); err != nil {
				c.log.Warn("interface pre-fetch failed", zap.String("asset_id", name), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if succeeded.Load() == 0 {
		return fmt.Errorf("no asset interfaces resolved out of %d assets", len(equipment))
	}
	return nil
}
