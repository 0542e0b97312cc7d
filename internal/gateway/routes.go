package gateway

import (
	"net/http"

	"github.com/nao1215/bffgate/internal/config"
	"github.com/nao1215/bffgate/pkg/contract"
)

// Route は1つの中継ルートの宣言。ルート一覧はコードではなくデータとして扱う。
type Route struct {
	// Name はルート名（ログと監査用）。
	Name string
	// Method はゲートウェイ側のHTTPメソッド。上流にも同じメソッドで送る。
	Method string
	// Path は /api からの相対パス。":name" 形式のパスパラメータを使える。
	Path string
	// Service は中継先の論理サービス名。
	Service string
	// UpstreamPath は上流のパス。Pathと同名のパスパラメータを埋め込める。
	UpstreamPath string
	// Input はリクエストボディのスキーマ。nilならボディを検証せずそのまま送る。
	Input *contract.Schema
	// Output は成功レスポンスのスキーマ。nilなら検証しない。
	Output *contract.Schema
	// Discriminator は成功と業務エラーで形が変わる上流レスポンスの判別関数。
	Discriminator contract.Discriminator
	// Query は上流へ引き継ぐクエリパラメータ名。
	Query []string
	// Public はセッション無しで呼び出せるかどうか。
	Public bool
}

// ログイン交換のスキーマ。
var (
	loginInput = &contract.Schema{
		Name: "login_request",
		Fields: map[string]contract.Field{
			"username": {Type: contract.TypeString, Rules: "required,max=128", Example: "retailer@example.com"},
			"password": {Type: contract.TypeString, Rules: "required,max=256", Example: "correct-horse"},
		},
	}
	loginOutput = &contract.Schema{
		Name: "login_response",
		Fields: map[string]contract.Field{
			"token":   {Type: contract.TypeString, Rules: "required"},
			"user_id": {Type: contract.TypeString, Rules: "required"},
		},
	}
)

// 業務ルートのスキーマ。
var (
	retailerProfileOutput = &contract.Schema{
		Name: "retailer_profile",
		Fields: map[string]contract.Field{
			"retailer_id":   {Type: contract.TypeString, Rules: "required", Example: "RT-1001"},
			"business_name": {Type: contract.TypeString, Rules: "required", Example: "Asha General Store"},
			"mobile":        {Type: contract.TypeString, Rules: "e164", Example: "+919876543210"},
			"kyc_status":    {Type: contract.TypeString, Rules: "required,oneof=PENDING SUBMITTED VERIFIED REJECTED", Example: "VERIFIED"},
		},
	}
	kycInput = &contract.Schema{
		Name: "kyc_submission",
		Fields: map[string]contract.Field{
			"document_type": {Type: contract.TypeString, Rules: "required,oneof=PAN AADHAAR GST", Example: "PAN"},
			"pan":           {Type: contract.TypeString, Rules: "required,len=10,alphanum", Example: "ABCDE1234F"},
			"aadhaar_last4": {Type: contract.TypeString, Rules: "len=4,numeric", Example: "1234"},
			"address": {Type: contract.TypeObject, Rules: "required", Fields: map[string]contract.Field{
				"line1":   {Type: contract.TypeString, Rules: "required,max=128", Example: "12 MG Road"},
				"city":    {Type: contract.TypeString, Rules: "required,max=64", Example: "Pune"},
				"pincode": {Type: contract.TypeString, Rules: "required,len=6,numeric", Example: "411001"},
			}},
		},
	}
	kycOutput = &contract.Schema{
		Name: "kyc_result",
		Fields: map[string]contract.Field{
			"kyc_status": {Type: contract.TypeString, Rules: "required", Example: "SUBMITTED"},
		},
	}
	billFetchOutput = &contract.Schema{
		Name: "bill_fetch",
		Fields: map[string]contract.Field{
			"bill": {Type: contract.TypeObject, Rules: "required", Fields: map[string]contract.Field{
				"bill_id":       {Type: contract.TypeString, Rules: "required", Example: "BILL123"},
				"amount":        {Type: contract.TypeNumber, Rules: "required,gt=0", Example: 1499.0},
				"due_date":      {Type: contract.TypeString, Rules: "required,datetime=2006-01-02", Example: "2026-11-01"},
				"customer_name": {Type: contract.TypeString, Example: "Ravi Kumar"},
			}},
		},
	}
	billPaymentInput = &contract.Schema{
		Name: "bill_payment_request",
		Fields: map[string]contract.Field{
			"bill_id":   {Type: contract.TypeString, Rules: "required,max=64", Example: "BILL123"},
			"biller_id": {Type: contract.TypeString, Rules: "required,max=64", Example: "MSEB00000NAT01"},
			"amount":    {Type: contract.TypeNumber, Rules: "required,gt=0", Example: 1499.0},
			"mode":      {Type: contract.TypeString, Rules: "required,oneof=UPI IMPS NEFT CASH", Example: "CASH"},
			"payer": {Type: contract.TypeObject, Rules: "required", Fields: map[string]contract.Field{
				"name":   {Type: contract.TypeString, Rules: "required,max=128", Example: "Ravi Kumar"},
				"mobile": {Type: contract.TypeString, Rules: "required,e164", Example: "+919812345678"},
			}},
		},
	}
	billPaymentOutput = &contract.Schema{
		Name: "bill_payment_result",
		Fields: map[string]contract.Field{
			"status": {Type: contract.TypeString, Rules: "required,oneof=SUCCESS PENDING", Example: "SUCCESS"},
			"txn_id": {Type: contract.TypeString, Rules: "required", Example: "TXN-9001"},
		},
	}
	transferInput = &contract.Schema{
		Name: "transfer_request",
		Fields: map[string]contract.Field{
			"beneficiary_account": {Type: contract.TypeString, Rules: "required,numeric,min=9,max=18", Example: "123456789012"},
			"ifsc":                {Type: contract.TypeString, Rules: "required,len=11,alphanum", Example: "HDFC0001234"},
			"amount":              {Type: contract.TypeNumber, Rules: "required,gt=0", Example: 2500.0},
			"mode":                {Type: contract.TypeString, Rules: "required,oneof=IMPS NEFT RTGS", Example: "IMPS"},
			"remarks":             {Type: contract.TypeString, Rules: "max=64", Example: "supplier payment"},
		},
	}
	transferOutput = &contract.Schema{
		Name: "transfer",
		Fields: map[string]contract.Field{
			"transfer_id": {Type: contract.TypeString, Rules: "required", Example: "TR-42"},
			"status":      {Type: contract.TypeString, Rules: "required,oneof=INITIATED PENDING SUCCESS FAILED", Example: "INITIATED"},
		},
	}
)

// DefaultRoutes は業務ルートの一覧を返す。
func DefaultRoutes() []Route {
	return []Route{
		{
			Name:         "retailer_profile",
			Method:       http.MethodGet,
			Path:         "/retailer/profile",
			Service:      config.ServiceRetailer,
			UpstreamPath: "/retailers/me",
			Output:       retailerProfileOutput,
		},
		{
			Name:         "retailer_kyc",
			Method:       http.MethodPost,
			Path:         "/retailer/kyc",
			Service:      config.ServiceRetailer,
			UpstreamPath: "/retailers/me/kyc",
			Input:        kycInput,
			Output:       kycOutput,
		},
		// 請求が見つからない場合も200で {"error": ...} を返す上流のため判別する
		{
			Name:          "bill_fetch",
			Method:        http.MethodGet,
			Path:          "/billpay/bills",
			Service:       config.ServiceBillPay,
			UpstreamPath:  "/bills",
			Query:         []string{"biller_id", "customer_ref"},
			Discriminator: contract.FieldPresent("bill"),
			Output:        billFetchOutput,
		},
		{
			Name:          "bill_payment",
			Method:        http.MethodPost,
			Path:          "/billpay/payments",
			Service:       config.ServiceBillPay,
			UpstreamPath:  "/payments",
			Input:         billPaymentInput,
			Discriminator: contract.FieldEquals("status", "SUCCESS", "PENDING"),
			Output:        billPaymentOutput,
		},
		{
			Name:          "transfer_create",
			Method:        http.MethodPost,
			Path:          "/payments/transfers",
			Service:       config.ServicePayments,
			UpstreamPath:  "/transfers",
			Input:         transferInput,
			Discriminator: contract.FieldAbsent("error"),
			Output:        transferOutput,
		},
		{
			Name:         "transfer_list",
			Method:       http.MethodGet,
			Path:         "/payments/transfers",
			Service:      config.ServicePayments,
			UpstreamPath: "/transfers",
			Query:        []string{"status", "mode", "page"},
		},
		{
			Name:         "transfer_status",
			Method:       http.MethodGet,
			Path:         "/payments/transfers/:transfer_id",
			Service:      config.ServicePayments,
			UpstreamPath: "/transfers/:transfer_id",
			Output:       transferOutput,
		},
	}
}
