package discovery_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/scooked-app/scooked-go/pkg/discovery"
)

func TestNewMDNSAdvertiser(t *testing.T) {
	adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		t.Fatalf("NewMDNSAdvertiser() error = %v", err)
	}
	defer adv.Stop()
}

func TestAdvertiseRejectsLongInstanceName(t *testing.T) {
	adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		t.Fatalf("NewMDNSAdvertiser() error = %v", err)
	}
	defer adv.Stop()

	info := &discovery.StoreInfo{
		StoreID: strings.Repeat("x", discovery.MaxInstanceNameLen),
		Scope:   "scooked",
	}

	err = adv.Advertise(context.Background(), info)
	if !errors.Is(err, discovery.ErrInstanceNameTooLong) {
		t.Errorf("Advertise() error = %v, want ErrInstanceNameTooLong", err)
	}
}

func TestUpdateWithoutAdvertise(t *testing.T) {
	adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		t.Fatalf("NewMDNSAdvertiser() error = %v", err)
	}
	defer adv.Stop()

	info := &discovery.StoreInfo{StoreID: "kitchen-1", Scope: "scooked"}
	if err := adv.Update(info); !errors.Is(err, discovery.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestDefaultAdvertiserConfig(t *testing.T) {
	config := discovery.DefaultAdvertiserConfig()
	if config.TTL != discovery.DefaultTTL {
		t.Errorf("TTL = %v, want %v", config.TTL, discovery.DefaultTTL)
	}
}
