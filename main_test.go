package main

import "testing"

func TestRedisOptionsURL(t *testing.T) {
	opts := redisOptions("redis://:secret@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.TLSConfig != nil {
		t.Fatalf("expected plain connection")
	}
}

func TestRedisOptionsAzureStyle(t *testing.T) {
	opts := redisOptions("cache.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if opts.Addr != "cache.redis.cache.windows.net:6380" {
		t.Fatalf("unexpected addr: %s", opts.Addr)
	}
	if opts.Password != "abc=" {
		t.Fatalf("unexpected password: %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls to be enabled")
	}
}
