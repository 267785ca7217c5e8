package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/andrelucass/fruteira/internal/db"
	"github.com/andrelucass/fruteira/internal/models"
	"github.com/andrelucass/fruteira/internal/notify"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notify.OrderNotification
	ok    bool
}

func (f *fakeNotifier) NotifyOrder(_ context.Context, o notify.OrderNotification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, o)
	return f.ok
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeNotifier) last() notify.OrderNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (f *fakePublisher) PublishEvent(_ context.Context, topic, _ string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := event.(map[string]any)
	m["_topic"] = topic
	f.events = append(f.events, m)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeNotifier, *fakePublisher) {
	t.Helper()
	fn := &fakeNotifier{ok: true}
	fp := &fakePublisher{}
	svc := &Service{DB: newTestDB(t), Notifier: fn, Events: fp}
	return svc, fn, fp
}

func seedUser(t *testing.T, gdb *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{Name: name, Email: name + "@example.com", PasswordHash: "x", Phone: "11999999999"}
	require.NoError(t, gdb.Create(&u).Error)
	return u
}

func seedProduct(t *testing.T, gdb *gorm.DB, name string, price float64, count uint) models.Product {
	t.Helper()
	p := models.Product{Name: name, Price: price, Description: "d", Image: "default.jpg", Count: count}
	require.NoError(t, gdb.Create(&p).Error)
	return p
}

func TestAddToCart_RejectsNonPositiveQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	prod := seedProduct(t, svc.DB, "apple", 2.5, 10)

	_, err := svc.AddToCart(context.Background(), user.ID, prod.ID, 0)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AddToCart(context.Background(), user.ID, prod.ID, -3)
	require.ErrorIs(t, err, ErrValidation)

	var count int64
	svc.DB.Model(&models.CartItem{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestAddToCart_UnknownProduct(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")

	_, err := svc.AddToCart(context.Background(), user.ID, 999, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddToCart_StockScenario(t *testing.T) {
	// stock=5: add 3 ok, add 3 fails and leaves qty=3, add 2 ok, add 1 fails.
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	prod := seedProduct(t, svc.DB, "mango", 4, 5)
	ctx := context.Background()

	item, err := svc.AddToCart(ctx, user.ID, prod.ID, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, item.Quantity)

	_, err = svc.AddToCart(ctx, user.ID, prod.ID, 3)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var line models.CartItem
	require.NoError(t, svc.DB.Where("user_id = ? AND product_id = ?", user.ID, prod.ID).First(&line).Error)
	assert.EqualValues(t, 3, line.Quantity, "failed add must not change the line")

	item, err = svc.AddToCart(ctx, user.ID, prod.ID, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, item.Quantity)

	_, err = svc.AddToCart(ctx, user.ID, prod.ID, 1)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var count int64
	svc.DB.Model(&models.CartItem{}).Where("user_id = ?", user.ID).Count(&count)
	assert.EqualValues(t, 1, count, "repeated adds merge into one line")
}

func TestAddToCart_DoesNotTouchStock(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	prod := seedProduct(t, svc.DB, "pear", 3, 5)

	_, err := svc.AddToCart(context.Background(), user.ID, prod.ID, 5)
	require.NoError(t, err)

	var p models.Product
	require.NoError(t, svc.DB.First(&p, prod.ID).Error)
	assert.EqualValues(t, 5, p.Count, "adding to cart only validates stock")
}

func TestListCartAndComputeTotal(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	apple := seedProduct(t, svc.DB, "apple", 2.5, 10)
	mango := seedProduct(t, svc.DB, "mango", 4, 10)
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, user.ID, apple.ID, 2)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, user.ID, mango.ID, 3)
	require.NoError(t, err)

	lines, err := svc.ListCart(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, "apple", lines[0].Name)
	assert.Equal(t, 2.5, lines[0].UnitPrice)
	assert.EqualValues(t, 2, lines[0].Quantity)
	assert.Equal(t, 5.0, lines[0].Subtotal)

	want := 2*2.5 + 3*4.0
	assert.Equal(t, want, ComputeTotal(lines))

	// order-insensitive
	reversed := []Line{lines[1], lines[0]}
	assert.Equal(t, want, ComputeTotal(reversed))
}

func TestListCart_EmptyForOtherUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ana := seedUser(t, svc.DB, "ana")
	bia := seedUser(t, svc.DB, "bia")
	prod := seedProduct(t, svc.DB, "apple", 2.5, 10)

	_, err := svc.AddToCart(context.Background(), ana.ID, prod.ID, 1)
	require.NoError(t, err)

	lines, err := svc.ListCart(context.Background(), bia.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestRemoveLine(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	prod := seedProduct(t, svc.DB, "apple", 2.5, 10)
	ctx := context.Background()

	item, err := svc.AddToCart(ctx, user.ID, prod.ID, 2)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveLine(ctx, user.ID, item.ID))

	lines, err := svc.ListCart(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, 0.0, ComputeTotal(lines))

	// second removal of the same id reports not found, state unchanged
	err = svc.RemoveLine(ctx, user.ID, item.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveLine_ScopedToOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ana := seedUser(t, svc.DB, "ana")
	bia := seedUser(t, svc.DB, "bia")
	prod := seedProduct(t, svc.DB, "apple", 2.5, 10)
	ctx := context.Background()

	item, err := svc.AddToCart(ctx, ana.ID, prod.ID, 2)
	require.NoError(t, err)

	err = svc.RemoveLine(ctx, bia.ID, item.ID)
	require.ErrorIs(t, err, ErrNotFound)

	var line models.CartItem
	require.NoError(t, svc.DB.First(&line, item.ID).Error, "line must survive a foreign removal attempt")
}

func TestCheckout(t *testing.T) {
	svc, fn, fp := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	other := seedUser(t, svc.DB, "bia")
	apple := seedProduct(t, svc.DB, "apple", 2.5, 10)
	mango := seedProduct(t, svc.DB, "mango", 4, 10)
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, user.ID, apple.ID, 2)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, user.ID, mango.ID, 3)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, other.ID, apple.ID, 1)
	require.NoError(t, err)

	conf, err := svc.Checkout(ctx, user.ID)
	require.NoError(t, err)
	assert.Regexp(t, `^PED\d{4}$`, conf.Number)
	assert.Equal(t, 2*2.5+3*4.0, conf.Total)
	require.Len(t, conf.Items, 2)
	assert.Equal(t, "apple", conf.Items[0].Name)
	assert.Equal(t, 5.0, conf.Items[0].LineTotal)

	// user's cart cleared, other user untouched
	var mine, theirs int64
	svc.DB.Model(&models.CartItem{}).Where("user_id = ?", user.ID).Count(&mine)
	svc.DB.Model(&models.CartItem{}).Where("user_id = ?", other.ID).Count(&theirs)
	assert.EqualValues(t, 0, mine)
	assert.EqualValues(t, 1, theirs)

	// stock consumed at checkout time
	var a, m models.Product
	require.NoError(t, svc.DB.First(&a, apple.ID).Error)
	require.NoError(t, svc.DB.First(&m, mango.ID).Error)
	assert.EqualValues(t, 8, a.Count)
	assert.EqualValues(t, 7, m.Count)

	require.Eventually(t, func() bool { return fn.count() == 1 }, time.Second, 10*time.Millisecond)
	got := fn.last()
	assert.Equal(t, user.Email, got.Customer.Email)
	assert.Equal(t, conf.Number, got.Number)
	assert.Equal(t, conf.Total, got.Total)
	require.Len(t, got.Items, 2)

	fp.mu.Lock()
	defer fp.mu.Unlock()
	var sawOrder bool
	for _, ev := range fp.events {
		if ev["type"] == "order_created" {
			sawOrder = true
		}
	}
	assert.True(t, sawOrder)
}

func TestCheckout_EmptyCart(t *testing.T) {
	svc, fn, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")

	_, err := svc.Checkout(context.Background(), user.ID)
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 0, fn.count(), "no notification for a rejected checkout")
}

func TestCheckout_UnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Checkout(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckout_InsufficientStockRollsBack(t *testing.T) {
	svc, fn, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	apple := seedProduct(t, svc.DB, "apple", 2.5, 10)
	mango := seedProduct(t, svc.DB, "mango", 4, 10)
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, user.ID, apple.ID, 2)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, user.ID, mango.ID, 3)
	require.NoError(t, err)

	// stock drops after the add-time check, the accepted race
	require.NoError(t, svc.DB.Model(&models.Product{}).Where("id = ?", mango.ID).Update("count", 1).Error)

	_, err = svc.Checkout(ctx, user.ID)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// whole checkout rolled back: cart intact, apple stock restored, no orders
	var lines int64
	svc.DB.Model(&models.CartItem{}).Where("user_id = ?", user.ID).Count(&lines)
	assert.EqualValues(t, 2, lines)

	var a models.Product
	require.NoError(t, svc.DB.First(&a, apple.ID).Error)
	assert.EqualValues(t, 10, a.Count)

	var orders int64
	svc.DB.Model(&models.Order{}).Count(&orders)
	assert.EqualValues(t, 0, orders)
	assert.Equal(t, 0, fn.count())
}

func TestCheckout_NotifierFailureDoesNotBlockCheckout(t *testing.T) {
	svc, fn, _ := newTestService(t)
	fn.ok = false
	user := seedUser(t, svc.DB, "ana")
	prod := seedProduct(t, svc.DB, "apple", 2.5, 10)
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, user.ID, prod.ID, 2)
	require.NoError(t, err)

	conf, err := svc.Checkout(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, conf.Number)

	var lines int64
	svc.DB.Model(&models.CartItem{}).Where("user_id = ?", user.ID).Count(&lines)
	assert.EqualValues(t, 0, lines, "cart cleared regardless of notification outcome")

	var orders int64
	svc.DB.Model(&models.Order{}).Count(&orders)
	assert.EqualValues(t, 1, orders)

	require.Eventually(t, func() bool { return fn.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestCheckout_WithoutNotifier(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Notifier = nil
	user := seedUser(t, svc.DB, "ana")
	prod := seedProduct(t, svc.DB, "apple", 2.5, 10)
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, user.ID, prod.ID, 1)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, user.ID)
	require.NoError(t, err)
}

func TestOrderNumbersAreMonotonic(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := seedUser(t, svc.DB, "ana")
	prod := seedProduct(t, svc.DB, "apple", 2.5, 100)
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, user.ID, prod.ID, 1)
	require.NoError(t, err)
	first, err := svc.Checkout(ctx, user.ID)
	require.NoError(t, err)

	_, err = svc.AddToCart(ctx, user.ID, prod.ID, 1)
	require.NoError(t, err)
	second, err := svc.Checkout(ctx, user.ID)
	require.NoError(t, err)

	assert.Equal(t, OrderNumber(first.OrderID), first.Number)
	assert.Equal(t, OrderNumber(second.OrderID), second.Number)
	assert.Greater(t, second.OrderID, first.OrderID)
	assert.NotEqual(t, first.Number, second.Number)
}
