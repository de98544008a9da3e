package domain

// CanCancel reports whether p may cancel order through the buyer cancel
// operation. Only the owning buyer can.
func CanCancel(p Principal, order *Order) bool {
	return p.Role == RoleBuyer && order.BuyerID == p.ID
}

// CanUpdateStatus reports whether p may set order to status. Admins may set
// any status, sellers may update orders containing one of their products,
// and the owning buyer may only cancel.
func CanUpdateStatus(p Principal, order *Order, status OrderStatus) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleSeller:
		return order.HasSeller(p.ID)
	case RoleBuyer:
		return status == OrderStatusCancelled && order.BuyerID == p.ID
	}
	return false
}

func CanView(p Principal, order *Order) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleSeller:
		return order.HasSeller(p.ID)
	case RoleBuyer:
		return order.BuyerID == p.ID
	}
	return false
}

// CanManageProduct reports whether p owns product.
func CanManageProduct(p Principal, product *Product) bool {
	return p.Role == RoleSeller && product.SellerID == p.ID
}
