package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"domainflow/internal/model"
	"domainflow/internal/order"
	"domainflow/internal/publish"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRouterUnderTest(t *testing.T) (*gin.Engine, *model.Persona) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&model.DomainOrder{}, &model.Persona{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := order.NewStore(gdb)
	gw := publish.NewGateway(store, publish.NewPersonaReader(gdb), nil)

	ctx := context.Background()
	p := &model.Persona{AccountID: 1, Name: "p", Slug: "p"}
	if err := gdb.Create(p).Error; err != nil {
		t.Fatalf("seed persona: %v", err)
	}
	o := &model.DomainOrder{AccountID: 1, Domain: "live.example.com"}
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if err := store.UpdateStatus(ctx, o.ID, model.OrderStatusReady, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}
	active := model.DNSStatusActive
	if err := store.UpdateDNSConfig(ctx, o.ID, order.DNSConfigUpdate{DNSStatus: &active}); err != nil {
		t.Fatalf("set dns: %v", err)
	}
	if err := gw.BindPersona(ctx, o.ID, p.ID); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := gw.Publish(ctx, o.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	r := gin.New()
	r.Use(DomainRouter(gw, []string{"app.platform.test"}))
	echo := func(c *gin.Context) {
		if pid, ok := c.Get(CtxPersonaID); ok {
			c.String(http.StatusOK, "persona=%d", pid)
			return
		}
		c.String(http.StatusOK, "none")
	}
	r.GET("/", echo)
	r.GET("/api/v1/ping", echo)
	return r, p
}

func serve(r *gin.Engine, host, path string) string {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Body.String()
}

func TestDomainRouterResolvesPublishedHost(t *testing.T) {
	r, p := newRouterUnderTest(t)

	want := fmt.Sprintf("persona=%d", p.ID)
	if got := serve(r, "live.example.com", "/"); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	// Port and case must not matter.
	if got := serve(r, "LIVE.example.com:8443", "/"); got != want {
		t.Errorf("body with port = %q, want %q", got, want)
	}
}

func TestDomainRouterPassesThrough(t *testing.T) {
	r, _ := newRouterUnderTest(t)

	cases := []struct {
		name string
		host string
		path string
	}{
		{"platform host", "app.platform.test", "/"},
		{"localhost", "localhost:8080", "/"},
		{"ip host", "192.168.1.10", "/"},
		{"unknown domain", "nobody.example.org", "/"},
		{"api path", "live.example.com", "/api/v1/ping"},
	}
	for _, c := range cases {
		if got := serve(r, c.host, c.path); got != "none" {
			t.Errorf("%s: body = %q, want pass-through", c.name, got)
		}
	}
}
