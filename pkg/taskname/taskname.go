package taskname

const (
	// Fulfillment tasks
	FulfillmentRewardProcess     = "fulfillment:reward:process"
	FulfillmentCredentialProcess = "fulfillment:credential:process"

	// Provisioning tasks
	ProvisioningWalletProcess = "provisioning:wallet:process"
	ProvisioningTenantProcess = "provisioning:tenant:process"
)
