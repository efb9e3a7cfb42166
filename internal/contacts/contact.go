// Package contacts implements the customer and system contact resource.
package contacts

import (
	"context"
	"fmt"
	"time"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/bulk"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
	"switchboard.dev/internal/resource"
)

const (
	StatusActive     = "active"
	StatusTerminated = "terminated"
)

// Contact is a stored contact. Contacts without a reseller are system contacts.
type Contact struct {
	ID                 int64      `json:"id"`
	ResellerID         *int64     `json:"reseller_id"`
	Firstname          string     `json:"firstname"`
	Lastname           string     `json:"lastname"`
	Company            string     `json:"company"`
	Email              string     `json:"email"`
	Phonenumber        string     `json:"phonenumber"`
	Mobilenumber       string     `json:"mobilenumber"`
	Street             string     `json:"street"`
	Postcode           string     `json:"postcode"`
	City               string     `json:"city"`
	Country            string     `json:"country"`
	Timezone           string     `json:"timezone"`
	Gender             string     `json:"gender"`
	Newsletter         bool       `json:"newsletter"`
	Status             string     `json:"status"`
	TerminateTimestamp *time.Time `json:"terminate_timestamp"`
}

// Request is the client shape of a contact.
type Request struct {
	ID                 int64      `json:"id" patch:"readonly"`
	ResellerID         *int64     `json:"reseller_id" validate:"omitempty,gt=0"`
	Firstname          string     `json:"firstname" validate:"max=127"`
	Lastname           string     `json:"lastname" validate:"max=127"`
	Company            string     `json:"company" validate:"max=127"`
	Email              string     `json:"email" validate:"required,email,max=255"`
	Phonenumber        string     `json:"phonenumber" validate:"omitempty,max=31"`
	Mobilenumber       string     `json:"mobilenumber" validate:"omitempty,max=31"`
	Street             string     `json:"street" validate:"max=127"`
	Postcode           string     `json:"postcode" validate:"max=16"`
	City               string     `json:"city" validate:"max=127"`
	Country            string     `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	Timezone           string     `json:"timezone" validate:"omitempty,timezone"`
	Gender             string     `json:"gender" validate:"omitempty,oneof=male female"`
	Newsletter         bool       `json:"newsletter"`
	Status             string     `json:"status" patch:"readonly"`
	TerminateTimestamp *time.Time `json:"terminate_timestamp" patch:"readonly"`
}

// Kind maps contacts between their representations.
type Kind struct{}

func (Kind) Name() string { return "contacts" }

func (Kind) FromInternal(c Contact) Request {
	return Request(c)
}

func (Kind) ToInternal(r Request) (Contact, error) {
	c := Contact(r)
	c.Status, c.TerminateTimestamp = "", nil
	return c, nil
}

func (Kind) ID(c Contact) int64                    { return c.ID }
func (Kind) SetID(c *Contact, id int64)            { c.ID = id }
func (Kind) Tenant(c Contact) *int64               { return c.ResellerID }
func (Kind) SetTenant(c *Contact, reseller *int64) { c.ResellerID = reseller }

// Store persists contacts.
type Store interface {
	resource.Store[Contact]
	bulk.Terminator
	ResellerExists(ctx context.Context, id int64) (bool, error)
	ContractStates(ctx context.Context, contactID int64) (bulk.Dependents, error)
}

// New returns the contact resource service. Deleting a contact with active
// contracts is locked, one with only terminated contracts is terminated.
func New(store Store, j resource.Journal, tx resource.TxRunner) *resource.Service[Contact, Request] {
	h := hooks{store: store}
	return resource.New[Contact, Request](Kind{}, store, j,
		resource.WithTx[Contact, Request](tx),
		resource.WithCreateHook[Contact, Request](h.prepareCreate),
		resource.WithBulk[Contact, Request](
			bulk.WithPrepare[Contact](keepLifecycle),
			bulk.WithUpdateCheck[Contact](h.checkUpdate),
			bulk.WithDependents[Contact](h.dependents, apperr.CodeContactActiveContract),
		),
	)
}

type hooks struct {
	store Store
}

func (h hooks) prepareCreate(ctx context.Context, c *Contact, _ permission.Filter) error {
	c.Status = StatusActive
	c.TerminateTimestamp = nil
	return h.checkReseller(ctx, c.ResellerID)
}

func (h hooks) checkUpdate(ctx context.Context, _, updated Contact, changes patch.Changes, _ permission.Filter) error {
	if !changes.Has("reseller_id") {
		return nil
	}
	return h.checkReseller(ctx, updated.ResellerID)
}

func (h hooks) checkReseller(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	ok, err := h.store.ResellerExists(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Unprocessable(apperr.CodeResellerIDInvalid, fmt.Sprintf("%d", *id))
	}
	return nil
}

// dependents only considers customer contacts; system contacts carry no contracts.
func (h hooks) dependents(ctx context.Context, c Contact) (bulk.Dependents, error) {
	if c.ResellerID == nil {
		return bulk.Dependents{}, nil
	}
	return h.store.ContractStates(ctx, c.ID)
}

// keepLifecycle carries status and termination time over; clients cannot set them.
func keepLifecycle(_ context.Context, old Contact, updated *Contact, _ permission.Filter) error {
	updated.Status = old.Status
	updated.TerminateTimestamp = old.TerminateTimestamp
	return nil
}
