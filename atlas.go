/*
package atlas is a dual-mode boot loader. It reads ATLAS.CFG from the boot
volume, shows a menu of boot entries and hands the machine over to the image
of the chosen entry.

The loader runs on a [Platform]: [Legacy] reads a FAT32 volume with polled
ATA I/O and draws into the text mode buffer, [Firmware] goes through the boot
services of modern firmware. Both feed the same [Loader]:

	p, err := atlas.NewLegacy(atlas.LegacyConfig{Ports: ports, Memory: mem, Keyboard: kbd})
	if err != nil {
		return err
	}
	l := &atlas.Loader{Platform: p, CPU: cpu}
	return l.Run(ctx)

Hardware is consumed through interfaces so that the ata and efi/emu packages
can stand in for a real machine.
*/
package atlas
