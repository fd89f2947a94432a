package util

import "testing"

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ANANCUS_SSLDOMAIN", "override.example")
	t.Setenv("ANANCUS_DELIVERY_WORKERS", "8")
	t.Setenv("ANANCUS_MAX_CONTENT_MB", "250")
	t.Setenv("ANANCUS_DELIVERY_MAX_ATTEMPTS", "not-a-number")

	c := &AppConfig{}
	c.Conf.SslDomain = "original.example"
	c.Conf.DeliveryWorkers = 4
	c.Conf.MaxContentMB = 500
	c.Conf.DeliveryMaxAttempts = 5

	applyEnvOverrides(c)

	if c.Conf.SslDomain != "override.example" {
		t.Errorf("SslDomain override not applied: %s", c.Conf.SslDomain)
	}
	if c.Conf.DeliveryWorkers != 8 {
		t.Errorf("DeliveryWorkers override not applied: %d", c.Conf.DeliveryWorkers)
	}
	if c.Conf.MaxContentMB != 250 {
		t.Errorf("MaxContentMB override not applied: %d", c.Conf.MaxContentMB)
	}
	if c.Conf.DeliveryMaxAttempts != 5 {
		t.Errorf("invalid int override must leave the value unchanged: %d", c.Conf.DeliveryMaxAttempts)
	}
}

func TestMaxContentBytes(t *testing.T) {
	c := &AppConfig{}
	c.Conf.MaxContentMB = 500

	if c.MaxContentBytes() != 500*1024*1024 {
		t.Errorf("unexpected byte limit: %d", c.MaxContentBytes())
	}
}
