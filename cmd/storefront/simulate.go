package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"storefront-events/internal/auth"
	"storefront-events/internal/domain"
	"storefront-events/internal/infrastructure/email"
	"storefront-events/internal/infrastructure/payment"
	"storefront-events/internal/realtime"
	"storefront-events/internal/repo"
	"storefront-events/internal/service"
	"storefront-events/internal/worker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateOrders     int
	simulateRedelivery int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Race REST checkout against redelivered webhooks in memory",
	Long: `Run an in-memory simulation of the checkout race. For each purchase the
client's REST call and several deliveries of the same provider event run
concurrently; every purchase must end up as exactly one paid order. A final
purchase loses its webhook entirely and is settled by the reconciliation
sweep.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simulateOrders, "orders", 10, "number of purchases")
	simulateCmd.Flags().IntVar(&simulateRedelivery, "redeliver", 3, "deliveries of each webhook event")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store := repo.NewMemoryStore()
	customer := domain.Contact{UserID: uuid.New(), Email: "customer@example.com", EmailNotifications: true}
	store.AddUser(customer, domain.RoleUser)
	mug := domain.Product{ID: uuid.New(), Name: "Mug", Price: decimal.RequireFromString("450.00")}
	tee := domain.Product{ID: uuid.New(), Name: "T-shirt", Price: decimal.RequireFromString("1200.00")}
	store.AddProduct(mug)
	store.AddProduct(tee)

	gateway := payment.NewFakeGateway("whsec_simulate")
	tokens := auth.NewTokens("simulate", time.Hour)
	router := realtime.NewRouter(tokens, logger)
	pool := worker.NewEmailPool(email.NewLogMailer(logger), 1, 64, logger)
	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()
	go pool.Run(poolCtx)

	orderRepo := repo.NewMemoryOrders(store)
	productRepo := repo.NewMemoryProducts(store)
	notifications := repo.NewMemoryNotifications(store)
	dispatcher := service.NewDispatcher(notifications, repo.NewMemoryUsers(store), router, pool, logger)
	orders := service.NewOrderService(repo.NewMemoryTx(store), orderRepo, dispatcher, gateway, decimal.NewFromInt(100), logger)
	checkout := service.NewCheckoutService(gateway, productRepo, "pkr")
	reconciler := service.NewReconciler(gateway, orders, orderRepo, productRepo,
		repo.NewMemoryPaymentEvents(store), 5*time.Second, logger)

	items := []domain.IntentItem{{ProductID: mug.ID, Quantity: 2}, {ProductID: tee.ID, Quantity: 1}}
	addr := domain.ShippingAddress{FullName: "Ayesha Khan", Address: "12 Canal Road", City: "Lahore", Country: "PK"}
	lines := []domain.LineItem{
		{ProductID: mug.ID, Quantity: 2, UnitPrice: mug.Price},
		{ProductID: tee.ID, Quantity: 1, UnitPrice: tee.Price},
	}

	fmt.Printf("--- STARTING SIMULATION (%d PURCHASES, %d DELIVERIES EACH) ---\n", simulateOrders, simulateRedelivery)
	for i := 0; i < simulateOrders; i++ {
		pi, err := checkout.CreateIntent(ctx, customer.UserID, items, addr)
		if err != nil {
			return err
		}
		if pi, err = gateway.Succeed(pi.ID); err != nil {
			return err
		}
		body := payment.IntentEvent(fmt.Sprintf("evt_sim_%d", i+1), domain.EventPaymentIntentSucceeded, pi)
		sig := gateway.Sign(body)

		var wg sync.WaitGroup
		outcomes := make([]service.Outcome, simulateRedelivery)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := orders.PlaceOrder(ctx, service.CreateOrderInput{
				UserID:          customer.UserID,
				Items:           lines,
				ShippingAddress: addr,
				PaymentMethod:   domain.PaymentStripe,
				PaymentIntentID: pi.ID,
			})
			if err != nil {
				fmt.Printf("    REST create failed: %v\n", err)
			}
		}()
		for d := 0; d < simulateRedelivery; d++ {
			wg.Add(1)
			go func(d int) {
				defer wg.Done()
				out, err := reconciler.Handle(ctx, body, sig)
				if err != nil {
					fmt.Printf("    webhook delivery %d failed: %v\n", d+1, err)
				}
				outcomes[d] = out
			}(d)
		}
		wg.Wait()

		o, err := orderRepo.FindByPaymentIntent(ctx, pi.ID)
		if err != nil {
			return fmt.Errorf("purchase %d: %w", i+1, err)
		}
		fmt.Printf("[%d] intent %s -> order %s status=%s payment=%s webhooks=%v\n",
			i+1, pi.ID, o.Ref(), o.Status, o.PaymentStatus, outcomes)
	}

	// A purchase whose webhook never arrives.
	pi, err := checkout.CreateIntent(ctx, customer.UserID, items, addr)
	if err != nil {
		return err
	}
	lost, _, err := orders.PlaceOrder(ctx, service.CreateOrderInput{
		UserID: customer.UserID, Items: lines, ShippingAddress: addr,
		PaymentMethod: domain.PaymentStripe, PaymentIntentID: pi.ID,
	})
	if err != nil {
		return err
	}
	if _, err := gateway.Succeed(pi.ID); err != nil {
		return err
	}
	fmt.Printf("[lost webhook] order %s payment=%s\n", lost.Ref(), lost.PaymentStatus)

	sweeper := worker.NewReconciliationWorker(orderRepo, gateway, orders, time.Second, 0, logger)
	settled, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	lost, err = orderRepo.FindById(ctx, lost.ID)
	if err != nil {
		return err
	}
	fmt.Printf("    -> sweep settled %d, order %s payment=%s\n", settled, lost.Ref(), lost.PaymentStatus)

	all, err := orderRepo.ListByUser(ctx, customer.UserID)
	if err != nil {
		return err
	}
	unread, err := notifications.UnreadCount(ctx, domain.UserRecipient(customer.UserID))
	if err != nil {
		return err
	}
	fmt.Println("---------------------------------------------------")
	fmt.Printf("purchases: %d  orders: %d  customer unread notifications: %d\n", simulateOrders+1, len(all), unread)
	if len(all) != simulateOrders+1 {
		return fmt.Errorf("expected %d orders, found %d", simulateOrders+1, len(all))
	}
	return nil
}
